package arbiter

import (
	"fmt"
	"sort"
)

// Level decides which list of the result a functional error code is
// added to.
type Level string

const (
	LevelInfo    Level = "info"
	LevelWarning Level = "warning"
	LevelError   Level = "error"
)

// ErrorCode is a functional error defined once for a deployment and
// added by rules with add_error_code(code).
type ErrorCode struct {
	Code        string
	Name        string
	Level       Level
	Description string
}

// Message is the text added to the result.
func (c ErrorCode) Message() string {
	return fmt.Sprintf("[%s] %s", c.Level, c.Name)
}

// AddErrorCodes defines error codes, replacing those with the same code.
func (e *Engine) AddErrorCodes(codes ...ErrorCode) error {
	for _, c := range codes {
		if c.Code == "" {
			return fmt.Errorf("%w: error code without a code", ErrInvalidName)
		}
		switch c.Level {
		case LevelInfo, LevelWarning, LevelError:
		case "":
			c.Level = LevelError
		default:
			return fmt.Errorf("%w: level %q of error code %s", ErrUnknownErrorCode, c.Level, c.Code)
		}
		e.mu.Lock()
		e.errorCodes[c.Code] = c
		e.mu.Unlock()
	}
	return nil
}

// ErrorCode returns the error code definition.
func (e *Engine) ErrorCode(code string) (ErrorCode, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	c, ok := e.errorCodes[code]
	return c, ok
}

// ErrorCodes returns the defined error codes, sorted by code.
func (e *Engine) ErrorCodes() []ErrorCode {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]ErrorCode, 0, len(e.errorCodes))
	for _, c := range e.errorCodes {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Code < out[j].Code })
	return out
}
