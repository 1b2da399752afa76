package question

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"sync"

	"examhub/internal/apperr"
)

var (
	processKeyOnce sync.Once
	processKey     []byte
)

// MatchTokens publishes the right-hand items of matching questions under
// keyed tokens so students cannot pair them by id. Stored answers and
// scoring keep using pair ids.
type MatchTokens struct {
	key []byte
}

// NewMatchTokens keys tokens with secret. An empty secret uses a random key
// shared by the whole process, so tokens change on restart.
func NewMatchTokens(secret string) *MatchTokens {
	if secret != "" {
		return &MatchTokens{key: []byte(secret)}
	}
	processKeyOnce.Do(func() {
		processKey = make([]byte, 32)
		if _, err := rand.Read(processKey); err != nil {
			panic("question: read random key: " + err.Error())
		}
	})
	return &MatchTokens{key: processKey}
}

// Token is the public id of pair pairID's right item within one exam.
func (t *MatchTokens) Token(examID, questionID, pairID string) string {
	mac := hmac.New(sha256.New, t.key)
	for _, part := range []string{examID, questionID, pairID} {
		mac.Write([]byte(part))
		mac.Write([]byte{0})
	}
	return "r" + hex.EncodeToString(mac.Sum(nil)[:12])
}

// RightID returns the token function Redact expects for one question.
func (t *MatchTokens) RightID(examID, questionID string) func(pairID string) string {
	return func(pairID string) string { return t.Token(examID, questionID, pairID) }
}

// Reveal maps the tokens of a matching answer back to pair ids. Other
// answer types are returned unchanged. Empty right ids stay empty.
func (t *MatchTokens) Reveal(examID, questionID string, c Content, a Answer) (Answer, error) {
	m, ok := c.(Matching)
	ma, isMatching := a.(MatchingAnswer)
	if !ok || !isMatching {
		return a, nil
	}
	byToken := make(map[string]string, len(m.Pairs))
	for _, p := range m.Pairs {
		byToken[t.Token(examID, questionID, p.ID)] = p.ID
	}
	out := MatchingAnswer{Matches: make([]Match, len(ma.Matches))}
	for i, mt := range ma.Matches {
		out.Matches[i] = mt
		if mt.RightID == "" {
			continue
		}
		pairID, known := byToken[mt.RightID]
		if !known {
			return nil, apperr.Invalidf("content.matches", "unknown right item %q", mt.RightID)
		}
		out.Matches[i].RightID = pairID
	}
	return out, nil
}

// Conceal is the inverse of Reveal for answers shown back to the student.
func (t *MatchTokens) Conceal(examID, questionID string, a Answer) Answer {
	ma, ok := a.(MatchingAnswer)
	if !ok {
		return a
	}
	out := MatchingAnswer{Matches: make([]Match, len(ma.Matches))}
	for i, mt := range ma.Matches {
		out.Matches[i] = mt
		if mt.RightID != "" {
			out.Matches[i].RightID = t.Token(examID, questionID, mt.RightID)
		}
	}
	return out
}
