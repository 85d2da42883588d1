// Package submission stores the forms behind the rate-limited actions:
// generated letters, prayers, witness stories and contact messages.
package submission

import (
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/thebridgeproject/bridge/internal/metrics"
)

// Kind names a submission form. Each kind shares its name with the rate
// limit category guarding it.
type Kind string

const (
	KindLetter  Kind = "letter"
	KindPrayer  Kind = "prayer"
	KindWitness Kind = "witness"
	KindContact Kind = "contact"
)

var (
	ErrUnknownKind = errors.New("unknown submission kind")
	ErrInvalid     = errors.New("invalid submission")
)

// Kinds lists every kind.
func Kinds() []Kind { return []Kind{KindLetter, KindPrayer, KindWitness, KindContact} }

// EventType is the journey event recorded when a submission of k succeeds.
func (k Kind) EventType() string {
	switch k {
	case KindLetter:
		return "letter_generated"
	case KindPrayer:
		return "prayer_offered"
	case KindWitness:
		return "witness_shared"
	case KindContact:
		return "contact_sent"
	}
	return string(k) + "_submitted"
}

// Submission is one accepted form.
type Submission struct {
	ID        string    `json:"id"`
	Kind      Kind      `json:"kind"`
	Name      string    `json:"name,omitempty"`
	Email     string    `json:"email,omitempty"`
	Recipient string    `json:"recipient,omitempty"`
	Topic     string    `json:"topic,omitempty"`
	Message   string    `json:"message,omitempty"`
	Anonymous bool      `json:"anonymous,omitempty"`
	SessionID string    `json:"sessionId,omitempty"`
	UserType  string    `json:"userType,omitempty"`
	Draft     string    `json:"draft,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}

// ValidationError lists the problems with a submission.
type ValidationError struct {
	Missing []string
	Invalid []string
}

func (e *ValidationError) Error() string {
	var parts []string
	if len(e.Missing) > 0 {
		parts = append(parts, "Missing required fields: "+strings.Join(e.Missing, ", "))
	}
	if len(e.Invalid) > 0 {
		parts = append(parts, "Invalid fields: "+strings.Join(e.Invalid, ", "))
	}
	return strings.Join(parts, "; ")
}

func (e *ValidationError) Unwrap() error { return ErrInvalid }

var required = map[Kind][]string{
	KindLetter:  {"name", "recipient", "topic"},
	KindPrayer:  {"message"},
	KindWitness: {"name", "message"},
	KindContact: {"name", "email", "message"},
}

// Validate checks the fields required by s.Kind.
func (s *Submission) Validate() error {
	fields, ok := required[s.Kind]
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownKind, s.Kind)
	}
	verr := &ValidationError{}
	for _, f := range fields {
		if strings.TrimSpace(s.field(f)) == "" {
			verr.Missing = append(verr.Missing, f)
		}
	}
	if s.Email != "" {
		if _, err := mail.ParseAddress(s.Email); err != nil {
			verr.Invalid = append(verr.Invalid, "email")
		}
	}
	if len(verr.Missing) > 0 || len(verr.Invalid) > 0 {
		return verr
	}
	return nil
}

func (s *Submission) field(name string) string {
	switch name {
	case "name":
		return s.Name
	case "email":
		return s.Email
	case "recipient":
		return s.Recipient
	case "topic":
		return s.Topic
	case "message":
		return s.Message
	}
	return ""
}

// Book keeps the most recent submissions of every kind in memory.
type Book struct {
	mu      sync.RWMutex
	items   map[Kind][]Submission
	max     int
	now     func() time.Time
	letters *letterTemplate
}

// NewBook creates a Book keeping at most maxPerKind submissions per kind.
func NewBook(maxPerKind int, now func() time.Time) *Book {
	if maxPerKind <= 0 {
		maxPerKind = 500
	}
	if now == nil {
		now = time.Now
	}
	return &Book{
		items:   make(map[Kind][]Submission),
		max:     maxPerKind,
		now:     now,
		letters: mustLetterTemplate(),
	}
}

// Submit validates s, stamps it and stores it. Letters get a draft.
func (b *Book) Submit(s Submission) (Submission, error) {
	if err := s.Validate(); err != nil {
		return s, err
	}
	s.ID = uuid.NewString()
	s.CreatedAt = b.now().UTC()
	if s.Anonymous {
		s.Name = ""
	}
	if s.Kind == KindLetter {
		draft, err := b.letters.render(s)
		if err != nil {
			return s, fmt.Errorf("compose letter: %w", err)
		}
		s.Draft = draft
	}

	b.mu.Lock()
	list := append(b.items[s.Kind], s)
	if over := len(list) - b.max; over > 0 {
		list = append(list[:0:0], list[over:]...)
	}
	b.items[s.Kind] = list
	b.mu.Unlock()

	metrics.Submissions.WithLabelValues(string(s.Kind)).Inc()
	return s, nil
}

// Count returns the number of stored submissions of kind.
func (b *Book) Count(kind Kind) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.items[kind])
}
