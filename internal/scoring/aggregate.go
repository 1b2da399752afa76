package scoring

type Totals struct {
	Max     int `json:"max"`
	Awarded int `json:"awarded"`
}

func (t *Totals) add(maxPoints, awarded int) {
	t.Max += maxPoints
	t.Awarded += awarded
}

// Entry is one question of an exam as it counts towards the totals.
// SectionID is empty for questions outside any section.
type Entry struct {
	QuestionID string
	SectionID  string
	Max        int
	Effective  int
}

type SectionTotals struct {
	SectionID string `json:"section_id"`
	Totals
}

type Summary struct {
	Sections    []SectionTotals `json:"sections"`
	Unsectioned Totals          `json:"unsectioned"`
	Exam        Totals          `json:"exam"`
}

// Aggregate sums entries per section, for unsectioned questions and for the
// whole exam. Sections are reported in order of first appearance. A question
// listed twice is counted once.
func Aggregate(entries []Entry) Summary {
	out := Summary{Sections: []SectionTotals{}}
	index := make(map[string]int)
	seen := make(map[string]struct{}, len(entries))

	for _, e := range entries {
		if _, dup := seen[e.QuestionID]; dup {
			continue
		}
		seen[e.QuestionID] = struct{}{}

		out.Exam.add(e.Max, e.Effective)
		if e.SectionID == "" {
			out.Unsectioned.add(e.Max, e.Effective)
			continue
		}
		i, ok := index[e.SectionID]
		if !ok {
			i = len(out.Sections)
			index[e.SectionID] = i
			out.Sections = append(out.Sections, SectionTotals{SectionID: e.SectionID})
		}
		out.Sections[i].add(e.Max, e.Effective)
	}
	return out
}
