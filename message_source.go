package appcontext

import (
	"fmt"
	"strconv"
	"strings"
	"sync"
)

// MessageSource resolves parameterized messages by code and locale. A
// component named "messageSource" implementing it replaces the default.
type MessageSource interface {
	Message(code string, args []any, locale string) (string, error)
}

// HierarchicalMessageSource falls back to a parent source for unknown codes.
// The context wires its parent's messages into one that has no parent yet.
type HierarchicalMessageSource interface {
	MessageSource
	SetParentMessageSource(parent MessageSource)
	ParentMessageSource() MessageSource
}

// DelegatingMessageSource resolves nothing itself and hands every lookup to
// its parent. It is installed when no message source component exists.
type DelegatingMessageSource struct {
	mu     sync.RWMutex
	parent MessageSource
}

// Message delegates to the parent or fails with ErrNoSuchMessage
func (d *DelegatingMessageSource) Message(code string, args []any, locale string) (string, error) {
	if parent := d.ParentMessageSource(); parent != nil {
		return parent.Message(code, args, locale)
	}
	return "", fmt.Errorf("%w: code %q for locale %q", ErrNoSuchMessage, code, locale)
}

func (d *DelegatingMessageSource) SetParentMessageSource(parent MessageSource) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.parent = parent
}

func (d *DelegatingMessageSource) ParentMessageSource() MessageSource {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.parent
}

// StaticMessageSource holds messages registered in code. Messages use {0},
// {1}, ... as argument placeholders. A message registered without a locale
// serves every locale.
type StaticMessageSource struct {
	mu       sync.RWMutex
	messages map[string]string
	parent   MessageSource
}

// NewStaticMessageSource creates an empty message source
func NewStaticMessageSource() *StaticMessageSource {
	return &StaticMessageSource{messages: make(map[string]string)}
}

// AddMessage registers a message for code and locale
func (s *StaticMessageSource) AddMessage(code, locale, message string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages[messageKey(code, locale)] = message
}

// AddMessages registers several messages for one locale
func (s *StaticMessageSource) AddMessages(locale string, messages map[string]string) {
	for code, msg := range messages {
		s.AddMessage(code, locale, msg)
	}
}

func (s *StaticMessageSource) Message(code string, args []any, locale string) (string, error) {
	s.mu.RLock()
	msg, ok := s.messages[messageKey(code, locale)]
	if !ok && locale != "" {
		// try the language without region, then the locale-independent message
		if lang, _, cut := strings.Cut(locale, "_"); cut {
			msg, ok = s.messages[messageKey(code, lang)]
		}
		if !ok {
			msg, ok = s.messages[messageKey(code, "")]
		}
	}
	parent := s.parent
	s.mu.RUnlock()

	if ok {
		return formatMessage(msg, args), nil
	}
	if parent != nil {
		return parent.Message(code, args, locale)
	}
	return "", fmt.Errorf("%w: code %q for locale %q", ErrNoSuchMessage, code, locale)
}

func (s *StaticMessageSource) SetParentMessageSource(parent MessageSource) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.parent = parent
}

func (s *StaticMessageSource) ParentMessageSource() MessageSource {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.parent
}

func messageKey(code, locale string) string {
	return code + "\x00" + locale
}

// formatMessage replaces {n} with the n-th argument; unknown indexes stay
func formatMessage(msg string, args []any) string {
	if len(args) == 0 || !strings.Contains(msg, "{") {
		return msg
	}
	var b strings.Builder
	for {
		open := strings.IndexByte(msg, '{')
		if open < 0 {
			b.WriteString(msg)
			break
		}
		end := strings.IndexByte(msg[open:], '}')
		if end < 0 {
			b.WriteString(msg)
			break
		}
		end += open
		idx, err := strconv.Atoi(msg[open+1 : end])
		b.WriteString(msg[:open])
		if err == nil && idx >= 0 && idx < len(args) {
			fmt.Fprint(&b, args[idx])
		} else {
			b.WriteString(msg[open : end+1])
		}
		msg = msg[end+1:]
	}
	return b.String()
}
