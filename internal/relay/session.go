package relay

import (
	"sync"
	"time"
)

// Session tracks the in-progress conversational turn for one connection.
// The client reader and the upstream reader run on different goroutines and
// both touch it, hence the lock.
type Session struct {
	mu        sync.Mutex
	userID    string
	question  string
	answer    string
	turnStart time.Time
}

func NewSession(userID string) *Session {
	return &Session{
		userID:    userID,
		turnStart: time.Now(),
	}
}

func (s *Session) UserID() string {
	return s.userID
}

func (s *Session) SetQuestion(question string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.question = question
}

// SetAnswer keeps the latest transcript; only the terminal "done" transcript
// is ever written here, so last value wins.
func (s *Session) SetAnswer(answer string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.answer = answer
}

// Turn returns a consistent snapshot of the current turn.
func (s *Session) Turn() (question, answer string, started time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.question, s.answer, s.turnStart
}

// ResetTurn clears the question/answer pair and restarts the turn timer.
func (s *Session) ResetTurn() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.question = ""
	s.answer = ""
	s.turnStart = time.Now()
}
