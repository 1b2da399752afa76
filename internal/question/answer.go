package question

import (
	"math"
	"path"
	"time"

	"examhub/internal/apperr"
)

// Answer is a student's response payload; its variant mirrors the question type.
type Answer interface {
	Type() Type
}

type MultipleChoiceAnswer struct {
	SelectedOptionID string `json:"selected_option_id"`
}

type FreeTextAnswer struct {
	Text string `json:"text"`
}

type EssayAnswer struct {
	Text string `json:"text"`
}

type UploadedFile struct {
	Name       string    `json:"name"`
	Path       string    `json:"path"`
	Size       int64     `json:"size"`
	Type       string    `json:"type"`
	UploadedAt time.Time `json:"uploaded_at"`
}

type FileUploadAnswer struct {
	Files []UploadedFile `json:"files"`
}

type StatementAnswer struct {
	StatementID string `json:"statement_id"`
	Selected    bool   `json:"selected"`
}

type KPrimAnswer struct {
	Answers []StatementAnswer `json:"answers"`
}

type BlankAnswer struct {
	BlankID string `json:"blank_id"`
	Text    string `json:"text"`
}

type ClozeAnswer struct {
	Answers []BlankAnswer `json:"answers"`
}

type Match struct {
	LeftID  string `json:"left_id"`
	RightID string `json:"right_id"`
}

type MatchingAnswer struct {
	Matches []Match `json:"matches"`
}

func (MultipleChoiceAnswer) Type() Type { return TypeMultipleChoice }
func (FreeTextAnswer) Type() Type       { return TypeFreeText }
func (EssayAnswer) Type() Type          { return TypeEssay }
func (FileUploadAnswer) Type() Type     { return TypeFileUpload }
func (KPrimAnswer) Type() Type          { return TypeKPrim }
func (ClozeAnswer) Type() Type          { return TypeCloze }
func (MatchingAnswer) Type() Type       { return TypeMatching }

// DecodeAnswer parses raw as the answer variant for t. A payload shaped for
// another question type is a validation error.
func DecodeAnswer(t Type, raw []byte) (Answer, error) {
	var a Answer
	switch t {
	case TypeMultipleChoice:
		var v MultipleChoiceAnswer
		if err := decodeStrict(raw, &v); err != nil {
			return nil, err
		}
		a = v
	case TypeFreeText:
		var v FreeTextAnswer
		if err := decodeStrict(raw, &v); err != nil {
			return nil, err
		}
		a = v
	case TypeEssay:
		var v EssayAnswer
		if err := decodeStrict(raw, &v); err != nil {
			return nil, err
		}
		a = v
	case TypeFileUpload:
		var v FileUploadAnswer
		if err := decodeStrict(raw, &v); err != nil {
			return nil, err
		}
		a = v
	case TypeKPrim:
		var v KPrimAnswer
		if err := decodeStrict(raw, &v); err != nil {
			return nil, err
		}
		a = v
	case TypeCloze:
		var v ClozeAnswer
		if err := decodeStrict(raw, &v); err != nil {
			return nil, err
		}
		a = v
	case TypeMatching:
		var v MatchingAnswer
		if err := decodeStrict(raw, &v); err != nil {
			return nil, err
		}
		a = v
	default:
		return nil, apperr.Invalidf("type", "unsupported question type %q", t)
	}
	return a, nil
}

// ValidateAnswer checks a against the limits declared by c.
func ValidateAnswer(c Content, a Answer) error {
	if c == nil || a == nil {
		return apperr.Invalid("content", "is required")
	}
	if c.Type() != a.Type() {
		return apperr.Invalidf("content", "answer is %s but question type is %s", a.Type(), c.Type())
	}
	fu, ok := c.(FileUpload)
	if !ok {
		return nil
	}
	files := a.(FileUploadAnswer).Files
	if len(files) > fu.MaxFiles {
		return apperr.Invalidf("content.files", "at most %d files allowed", fu.MaxFiles)
	}
	allowed := make(map[string]struct{}, len(fu.AllowedTypes))
	for _, ext := range fu.AllowedTypes {
		allowed[normalizeExt(ext)] = struct{}{}
	}
	maxBytes := int64(math.Round(fu.MaxFileSizeMB * 1024 * 1024))
	for i, f := range files {
		if f.Path == "" || f.Name == "" {
			return apperr.Invalidf("content.files", "file %d needs a name and path", i)
		}
		if _, ok := allowed[normalizeExt(path.Ext(f.Name))]; !ok {
			return apperr.Invalidf("content.files", "file type of %q is not allowed", f.Name)
		}
		if f.Size < 0 || f.Size > maxBytes {
			return apperr.Invalidf("content.files", "%q exceeds %.0f MB", f.Name, fu.MaxFileSizeMB)
		}
	}
	return nil
}

// ParseAnswer decodes raw for the question content c and validates it.
func ParseAnswer(c Content, raw []byte) (Answer, error) {
	a, err := DecodeAnswer(c.Type(), raw)
	if err != nil {
		return nil, err
	}
	if err := ValidateAnswer(c, a); err != nil {
		return nil, err
	}
	return a, nil
}

// UploadPaths lists the storage handles referenced by a file upload answer.
func UploadPaths(a Answer) []string {
	fa, ok := a.(FileUploadAnswer)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(fa.Files))
	for _, f := range fa.Files {
		out = append(out, f.Path)
	}
	return out
}
