package keyboard

import (
	"fmt"
	"io"
	"sync"
)

// Hardware executes abstract key operations. The OS level device
// registration and raw event emission live behind this interface.
type Hardware interface {
	TypeText(text string) error
	PressBackspace() error
	PressEnter() error
}

// Console renders key operations to a terminal, useful for dry runs
// and for piping the typed text into another program.
type Console struct {
	lock sync.Mutex
	w    io.Writer
}

func NewConsole(w io.Writer) (*Console, error) {
	if w == nil {
		return nil, fmt.Errorf("no writer")
	}
	return &Console{w: w}, nil
}

func (c *Console) TypeText(text string) error {
	c.lock.Lock()
	defer c.lock.Unlock()
	_, err := io.WriteString(c.w, text)
	return err
}

func (c *Console) PressBackspace() error {
	c.lock.Lock()
	defer c.lock.Unlock()
	// erase the last glyph on a terminal
	_, err := io.WriteString(c.w, "\b \b")
	return err
}

func (c *Console) PressEnter() error {
	c.lock.Lock()
	defer c.lock.Unlock()
	_, err := io.WriteString(c.w, "\n")
	return err
}
