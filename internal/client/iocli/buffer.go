package iocli

import (
	"bytes"
	"fmt"
	"io"
	"sync"
)

// Buffer is an in-memory IO with scripted answers. ReadInput and
// ReadPassword return io.EOF once their answers run out.
type Buffer struct {
	mu        sync.Mutex
	out       bytes.Buffer
	inputs    []string
	passwords []string
}

// NewBuffer создает буфер с ответами для ReadInput
func NewBuffer(inputs ...string) *Buffer {
	return &Buffer{inputs: inputs}
}

// WithPasswords задает ответы для ReadPassword
func (b *Buffer) WithPasswords(passwords ...string) *Buffer {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.passwords = append(b.passwords, passwords...)
	return b
}

func (b *Buffer) Println(a ...any) {
	b.mu.Lock()
	defer b.mu.Unlock()
	fmt.Fprintln(&b.out, a...)
}

func (b *Buffer) Printf(format string, a ...any) {
	b.mu.Lock()
	defer b.mu.Unlock()
	fmt.Fprintf(&b.out, format, a...)
}

func (b *Buffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.out.Write(p)
}

func (b *Buffer) ReadInput(prompt string) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.out.WriteString(prompt)
	return pop(&b.inputs)
}

func (b *Buffer) ReadPassword(prompt string) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.out.WriteString(prompt + "\n")
	return pop(&b.passwords)
}

// String returns everything written so far.
func (b *Buffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.out.String()
}

func pop(queue *[]string) (string, error) {
	if len(*queue) == 0 {
		return "", io.EOF
	}
	v := (*queue)[0]
	*queue = (*queue)[1:]
	return v, nil
}
