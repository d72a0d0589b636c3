package collision

import (
	"bytes"
	"encoding/gob"
	"errors"
	"fmt"
)

type Op uint32

const (
	OpInsert Op = iota
	OpDelete
)

func (op Op) String() string {
	switch op {
	case OpInsert:
		return "insert"
	case OpDelete:
		return "delete"
	default:
		return fmt.Sprintf("Op(%d)", uint32(op))
	}
}

var ErrInvalidCommand = errors.New("invalid command")

// Command is a mutation handed down by the engine: Insert(Key, Value) or
// Delete(Key).
type Command struct {
	Op    Op
	Key   []byte
	Value []byte
}

func InsertCommand(key, value []byte) *Command {
	return &Command{Op: OpInsert, Key: key, Value: value}
}

func DeleteCommand(key []byte) *Command {
	return &Command{Op: OpDelete, Key: key}
}

func (c *Command) Validate() error {
	if c == nil {
		return fmt.Errorf("%w: nil command", ErrInvalidCommand)
	}
	switch c.Op {
	case OpInsert:
		return nil
	case OpDelete:
		if len(c.Value) != 0 {
			return fmt.Errorf("%w: delete carries a value", ErrInvalidCommand)
		}
		return nil
	default:
		return fmt.Errorf("%w: unknown op %v", ErrInvalidCommand, c.Op)
	}
}

func (c *Command) ToBytes() []byte {
	var buf bytes.Buffer
	enc := gob.NewEncoder(&buf)
	err := enc.Encode(c)
	if err != nil {
		panic(err)
	}
	return buf.Bytes()
}

func (c *Command) FromBytes(b []byte) error {
	var command Command
	dec := gob.NewDecoder(bytes.NewBuffer(b))
	if err := dec.Decode(&command); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidCommand, err)
	}
	c.Key = command.Key
	c.Value = command.Value
	c.Op = command.Op
	return nil
}
