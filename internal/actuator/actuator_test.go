package actuator

import (
	"bytes"
	"context"
	"fmt"
	"sync"
	"testing"

	"codeberg.org/mutker/ipmifanctl/internal/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakePort struct {
	mu      sync.Mutex
	buf     bytes.Buffer
	failErr error
	closed  int
}

func (p *fakePort) Read([]byte) (int, error) { return 0, nil }

func (p *fakePort) Write(b []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.failErr != nil {
		return 0, p.failErr
	}
	return p.buf.Write(b)
}

func (p *fakePort) Close() error {
	p.closed++
	return nil
}

func (p *fakePort) String() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.buf.String()
}

func TestSetSpeedInvertsDuty(t *testing.T) {
	port := &fakePort{}
	b := New(port, 6)

	require.NoError(t, b.SetSpeed(0, 80))
	require.NoError(t, b.SetSpeed(5, 100))
	require.NoError(t, b.SetSpeed(3, 20))

	assert.Equal(t, "{\"fan\":0,\"speed\":20}\n{\"fan\":5,\"speed\":0}\n{\"fan\":3,\"speed\":80}\n", port.String())
}

func TestSetSpeedRejectsInvalid(t *testing.T) {
	port := &fakePort{}
	b := New(port, 6)

	assert.True(t, errors.HasCode(b.SetSpeed(0, 101), errors.ErrInvalidSpeed))
	assert.True(t, errors.HasCode(b.SetSpeed(0, -1), errors.ErrInvalidSpeed))
	assert.True(t, errors.HasCode(b.SetSpeed(6, 50), ErrFanOutOfRange))
	assert.True(t, errors.HasCode(b.SetSpeed(-1, 50), ErrFanOutOfRange))
	assert.Empty(t, port.String())
}

func TestSetSpeedWriteFailure(t *testing.T) {
	port := &fakePort{failErr: fmt.Errorf("write /dev/ttyUSB0: input/output error")}
	b := New(port, 0)

	err := b.SetSpeed(1, 50)
	require.Error(t, err)
	assert.Equal(t, errors.ErrActuatorTransmit, errors.CodeOf(err))
	assert.True(t, errors.HasCode(err, ErrWriteFailed))
}

func TestClose(t *testing.T) {
	port := &fakePort{}
	b := New(port, 6)

	require.NoError(t, b.Close())
	require.NoError(t, b.Close())
	assert.Equal(t, 1, port.closed)

	err := b.SetSpeed(0, 50)
	assert.True(t, errors.HasCode(err, ErrClosed))
}

func TestConcurrentCommandsAreLineAtomic(t *testing.T) {
	port := &fakePort{}
	b := New(port, 6)

	var wg sync.WaitGroup
	for fan := 0; fan < 6; fan++ {
		wg.Add(1)
		go func(fan int) {
			defer wg.Done()
			for i := 0; i < 50; i++ {
				_ = b.SetSpeed(fan, 50)
			}
		}(fan)
	}
	wg.Wait()

	lines := bytes.Split(bytes.TrimSpace([]byte(port.String())), []byte("\n"))
	assert.Len(t, lines, 300)
	for _, line := range lines {
		assert.Regexp(t, `^\{"fan":[0-5],"speed":50\}$`, string(line))
	}
}

func TestOpenMissingDevice(t *testing.T) {
	_, err := Open(context.Background(), Config{Device: "/nonexistent/ttyUSB9"})
	require.Error(t, err)
	assert.Equal(t, errors.ErrActuatorUnreachable, errors.CodeOf(err))
}
