package resourceclient

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"strconv"
	"strings"
)

// waitForGrant dials the PUB_EP and blocks until it sees a publish line
// for id, or ctx is done. It opens a fresh connection per wait rather
// than sharing one across goroutines, mirroring the one-shot SUB
// socket the original client opened for each queued request.
func waitForGrant(ctx context.Context, pubAddr string, id int64) error {
	d := net.Dialer{}
	nc, err := d.DialContext(ctx, "tcp", pubAddr)
	if err != nil {
		return fmt.Errorf("resourceclient: connecting to publish endpoint %s: %w", pubAddr, err)
	}
	defer nc.Close()

	done := make(chan error, 1)
	go func() {
		done <- scanForID(nc, id)
	}()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		_ = nc.Close()
		return ctx.Err()
	}
}

func scanForID(nc net.Conn, id int64) error {
	want := strconv.FormatInt(id, 10)
	scanner := bufio.NewScanner(nc)
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) == 0 {
			continue
		}
		if fields[0] == want {
			return nil
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("resourceclient: reading publish endpoint: %w", err)
	}
	return fmt.Errorf("resourceclient: publish endpoint closed before id %d arrived", id)
}
