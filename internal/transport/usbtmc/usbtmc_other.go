//go:build !linux

package usbtmc

import (
	"context"
	"time"

	"github.com/rjboer/openvisa/internal/logging"
	"github.com/rjboer/openvisa/internal/resource"
	"github.com/rjboer/openvisa/internal/transport"
	"github.com/rjboer/openvisa/internal/vistatus"
)

// Transport is unsupported outside Linux: the backend talks to the kernel
// usbfs ioctls directly and has no portable equivalent in scope.
type Transport struct {
	Logger logging.Logger
}

var _ transport.Transport = (*Transport)(nil)

func (t *Transport) Open(ctx context.Context, d resource.Descriptor, timeout time.Duration) error {
	return vistatus.ErrUnsupportedOperationErr
}

func (t *Transport) Close() error { return nil }

func (t *Transport) Write(ctx context.Context, buf []byte) (int, error) {
	return 0, vistatus.ErrUnsupportedOperationErr
}

func (t *Transport) Read(ctx context.Context, buf []byte, timeout time.Duration) (int, transport.ReadOutcome, error) {
	return 0, transport.ReadNormal, vistatus.ErrUnsupportedOperationErr
}

func (t *Transport) ReadSTB(ctx context.Context) (uint16, error) {
	return 0, vistatus.ErrUnsupportedOperationErr
}

func (t *Transport) Clear(ctx context.Context) error {
	return vistatus.ErrUnsupportedOperationErr
}
