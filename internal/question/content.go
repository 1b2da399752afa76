package question

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"regexp"
	"sort"
	"strings"

	"examhub/internal/apperr"

	"github.com/go-playground/validator/v10"
	"github.com/go-playground/validator/v10/non-standard/validators"
)

type Type string

const (
	TypeMultipleChoice Type = "multiple_choice"
	TypeFreeText       Type = "free_text"
	TypeFileUpload     Type = "file_upload"
	TypeKPrim          Type = "kprim"
	TypeCloze          Type = "cloze"
	TypeMatching       Type = "matching"
	TypeEssay          Type = "essay"
)

var allTypes = []Type{
	TypeMultipleChoice,
	TypeFreeText,
	TypeFileUpload,
	TypeKPrim,
	TypeCloze,
	TypeMatching,
	TypeEssay,
}

func ParseType(v string) (Type, error) {
	t := Type(strings.ToLower(strings.TrimSpace(v)))
	for _, known := range allTypes {
		if t == known {
			return t, nil
		}
	}
	return "", apperr.Invalidf("type", "unsupported question type %q", v)
}

// AutoGradable reports whether answers of this type are scored without a teacher.
func (t Type) AutoGradable() bool {
	switch t {
	case TypeMultipleChoice, TypeKPrim, TypeCloze, TypeMatching:
		return true
	default:
		return false
	}
}

type BloomLevel string

func ParseBloomLevel(v string) (BloomLevel, error) {
	l := BloomLevel(strings.ToUpper(strings.TrimSpace(v)))
	switch l {
	case "K1", "K2", "K3", "K4", "K5", "K6":
		return l, nil
	}
	return "", apperr.Invalidf("bloom_level", "must be one of K1..K6, got %q", v)
}

// Content is the type-specific payload of a question. The set of
// implementations is closed; every switch over it lists all seven.
type Content interface {
	Type() Type
	check() error
}

type Option struct {
	ID        string `json:"id" validate:"notblank"`
	Text      string `json:"text" validate:"notblank"`
	IsCorrect bool   `json:"is_correct"`
}

type MultipleChoice struct {
	Question string   `json:"question" validate:"notblank"`
	Options  []Option `json:"options" validate:"min=2,dive"`
}

type FreeText struct {
	Question       string `json:"question" validate:"notblank"`
	ExpectedLength string `json:"expected_length,omitempty" validate:"omitempty,oneof=word short medium long"`
	SampleAnswer   string `json:"sample_answer,omitempty"`
}

type FileUpload struct {
	Question      string   `json:"question" validate:"notblank"`
	AllowedTypes  []string `json:"allowed_types" validate:"min=1,dive,notblank"`
	MaxFileSizeMB float64  `json:"max_file_size_mb" validate:"gt=0"`
	MaxFiles      int      `json:"max_files" validate:"gte=1"`
}

type Statement struct {
	ID     string `json:"id" validate:"notblank"`
	Text   string `json:"text" validate:"notblank"`
	IsTrue bool   `json:"is_true"`
}

type KPrim struct {
	Question   string      `json:"question" validate:"notblank"`
	Statements []Statement `json:"statements" validate:"len=4,dive"`
}

type Blank struct {
	ID             string   `json:"id" validate:"notblank"`
	CorrectAnswers []string `json:"correct_answers" validate:"min=1,dive,notblank"`
	CaseSensitive  bool     `json:"case_sensitive"`
}

type Cloze struct {
	Question string  `json:"question" validate:"notblank"`
	Text     string  `json:"text" validate:"notblank"`
	Blanks   []Blank `json:"blanks" validate:"min=1,dive"`
}

type Pair struct {
	ID    string `json:"id" validate:"notblank"`
	Left  string `json:"left" validate:"notblank"`
	Right string `json:"right" validate:"notblank"`
}

type Matching struct {
	Question string `json:"question" validate:"notblank"`
	Pairs    []Pair `json:"pairs" validate:"min=2,dive"`
}

type Essay struct {
	Question string `json:"question" validate:"notblank"`
	MinWords *int   `json:"min_words,omitempty" validate:"omitempty,gte=0"`
	MaxWords *int   `json:"max_words,omitempty" validate:"omitempty,gte=1"`
	Rubric   string `json:"rubric,omitempty"`
}

func (MultipleChoice) Type() Type { return TypeMultipleChoice }
func (FreeText) Type() Type       { return TypeFreeText }
func (FileUpload) Type() Type     { return TypeFileUpload }
func (KPrim) Type() Type          { return TypeKPrim }
func (Cloze) Type() Type          { return TypeCloze }
func (Matching) Type() Type       { return TypeMatching }
func (Essay) Type() Type          { return TypeEssay }

var (
	validate = newValidator()

	placeholderPattern = regexp.MustCompile(`\{\{(\w+)\}\}`)
)

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	_ = v.RegisterValidation("notblank", validators.NotBlank)
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// DecodeContent parses raw into the variant for t. Fields that belong to
// another variant are rejected.
func DecodeContent(t Type, raw []byte) (Content, error) {
	var c Content
	switch t {
	case TypeMultipleChoice:
		var v MultipleChoice
		if err := decodeStrict(raw, &v); err != nil {
			return nil, err
		}
		c = v
	case TypeFreeText:
		var v FreeText
		if err := decodeStrict(raw, &v); err != nil {
			return nil, err
		}
		c = v
	case TypeFileUpload:
		var v FileUpload
		if err := decodeStrict(raw, &v); err != nil {
			return nil, err
		}
		c = v
	case TypeKPrim:
		var v KPrim
		if err := decodeStrict(raw, &v); err != nil {
			return nil, err
		}
		c = v
	case TypeCloze:
		var v Cloze
		if err := decodeStrict(raw, &v); err != nil {
			return nil, err
		}
		c = v
	case TypeMatching:
		var v Matching
		if err := decodeStrict(raw, &v); err != nil {
			return nil, err
		}
		c = v
	case TypeEssay:
		var v Essay
		if err := decodeStrict(raw, &v); err != nil {
			return nil, err
		}
		c = v
	default:
		return nil, apperr.Invalidf("type", "unsupported question type %q", t)
	}
	return c, nil
}

func decodeStrict(raw []byte, dst any) error {
	if len(bytes.TrimSpace(raw)) == 0 {
		return apperr.Invalid("content", "is required")
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return apperr.Invalidf("content", "does not match type: %v", err)
	}
	if dec.More() {
		return apperr.Invalid("content", "trailing data after object")
	}
	return nil
}

// ValidateContent checks the structural rules of c against the declared type t.
func ValidateContent(t Type, c Content) error {
	if c == nil {
		return apperr.Invalid("content", "is required")
	}
	if c.Type() != t {
		return apperr.Invalidf("content", "payload is %s but question type is %s", c.Type(), t)
	}
	if err := validate.Struct(c); err != nil {
		return fromValidator(err)
	}
	return c.check()
}

// ParseContent decodes and validates in one step.
func ParseContent(t Type, raw []byte) (Content, error) {
	c, err := DecodeContent(t, raw)
	if err != nil {
		return nil, err
	}
	if err := ValidateContent(t, c); err != nil {
		return nil, err
	}
	return c, nil
}

func fromValidator(err error) error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return apperr.Invalid("content", err.Error())
	}
	fe := verrs[0]
	field := fe.Namespace()
	if i := strings.IndexByte(field, '.'); i >= 0 {
		field = "content." + field[i+1:]
	}
	reason := fmt.Sprintf("failed %q", fe.Tag())
	switch fe.Tag() {
	case "notblank":
		reason = "must not be blank"
	case "min":
		reason = "needs at least " + fe.Param() + " items"
	case "len":
		reason = "needs exactly " + fe.Param() + " items"
	case "gt":
		reason = "must be greater than " + fe.Param()
	case "gte":
		reason = "must be at least " + fe.Param()
	case "oneof":
		reason = "must be one of: " + fe.Param()
	}
	return apperr.Invalid(field, reason)
}

func (c MultipleChoice) check() error {
	ids := make([]string, len(c.Options))
	correct := 0
	for i, o := range c.Options {
		ids[i] = o.ID
		if o.IsCorrect {
			correct++
		}
	}
	if err := uniqueIDs("content.options", ids); err != nil {
		return err
	}
	if correct == 0 {
		return apperr.Invalid("content.options", "at least one option must be correct")
	}
	return nil
}

func (c FreeText) check() error { return nil }

func (c FileUpload) check() error {
	seen := make(map[string]struct{}, len(c.AllowedTypes))
	for _, ext := range c.AllowedTypes {
		key := normalizeExt(ext)
		if _, ok := seen[key]; ok {
			return apperr.Invalidf("content.allowed_types", "duplicate type %q", ext)
		}
		seen[key] = struct{}{}
	}
	return nil
}

func (c KPrim) check() error {
	ids := make([]string, len(c.Statements))
	for i, s := range c.Statements {
		ids[i] = s.ID
	}
	return uniqueIDs("content.statements", ids)
}

func (c Cloze) check() error {
	ids := make([]string, len(c.Blanks))
	for i, b := range c.Blanks {
		ids[i] = b.ID
	}
	if err := uniqueIDs("content.blanks", ids); err != nil {
		return err
	}

	placeholders := Placeholders(c.Text)
	if len(placeholders) == 0 {
		return apperr.Invalid("content.text", "must contain at least one {{placeholder}}")
	}
	blanks := append([]string(nil), ids...)
	sort.Strings(blanks)
	if strings.Join(blanks, "\x00") != strings.Join(placeholders, "\x00") {
		return apperr.Invalidf("content.blanks", "blank ids %v do not match placeholders %v", blanks, placeholders)
	}
	return nil
}

func (c Matching) check() error {
	ids := make([]string, len(c.Pairs))
	for i, p := range c.Pairs {
		ids[i] = p.ID
	}
	return uniqueIDs("content.pairs", ids)
}

func (c Essay) check() error {
	if c.MinWords != nil && c.MaxWords != nil && *c.MinWords > *c.MaxWords {
		return apperr.Invalid("content.min_words", "must not exceed max_words")
	}
	return nil
}

// Placeholders returns the distinct placeholder identifiers of a cloze text, sorted.
func Placeholders(text string) []string {
	seen := map[string]struct{}{}
	for _, m := range placeholderPattern.FindAllStringSubmatch(text, -1) {
		seen[m[1]] = struct{}{}
	}
	out := make([]string, 0, len(seen))
	for id := range seen {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

func uniqueIDs(field string, ids []string) error {
	seen := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			return apperr.Invalidf(field, "duplicate id %q", id)
		}
		seen[id] = struct{}{}
	}
	return nil
}

func normalizeExt(v string) string {
	return strings.TrimPrefix(strings.ToLower(strings.TrimSpace(v)), ".")
}
