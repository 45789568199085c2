package server

import (
	"context"
	"fmt"
	"net"
)

// SendShutdown connects to addr and writes command followed by a newline.
// The protocol carries no reply.
func SendShutdown(ctx context.Context, addr, command string) error {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("dial shutdown port %s: %w", addr, err)
	}
	defer conn.Close()

	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetWriteDeadline(deadline)
	}
	if _, err := conn.Write([]byte(command + "\n")); err != nil {
		return fmt.Errorf("send shutdown command: %w", err)
	}
	return nil
}
