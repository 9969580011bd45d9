package detect

import (
	"errors"
	"testing"

	"autosurvey/internal/domain"
)

func TestDetectCascade(t *testing.T) {
	cases := []struct {
		name string
		html string
		want domain.QuestionType
	}{
		{
			name: "gap fill beats radio",
			html: `<div class="field" type="3" gapfill="1"><div class="ui-radio"><div class="label">A. yes</div></div><input type="text" name="q1_1"></div>`,
			want: domain.GapFill,
		},
		{
			name: "multi essay table",
			html: `<div class="field" type="9"><table><tr><td><textarea name="q2_0"></textarea></td></tr></table></div>`,
			want: domain.MultipleEssay,
		},
		{
			name: "matrix without textarea",
			html: `<div class="field" type="9"><table><tr><td><input type="text" name="q3_0"></td></tr></table></div>`,
			want: domain.MatrixFill,
		},
		{
			name: "matrix type six",
			html: `<div class="field" type="6"><table><tr><td><input type="radio" name="q4_1"></td></tr></table></div>`,
			want: domain.MatrixFill,
		},
		{
			name: "essay",
			html: `<div class="field" type="2"><textarea name="q5"></textarea></div>`,
			want: domain.Essay,
		},
		{
			name: "essay marker with table falls through",
			html: `<div class="field" type="2"><table><tr><td><textarea></textarea></td></tr></table></div>`,
			want: domain.FillBlank,
		},
		{
			name: "dropdown",
			html: `<div class="field" type="7"><select name="q6"><option>1</option></select></div>`,
			want: domain.Dropdown,
		},
		{
			name: "cascade",
			html: `<div class="field" type="1" verify="多级下拉"><input type="text" name="q7"></div>`,
			want: domain.CascadeDropdown,
		},
		{
			name: "true false by labels",
			html: `<div class="field" type="3"><div class="ui-radio"><div class="label">A. 正确</div></div><div class="ui-radio"><div class="label">B. 错误</div></div></div>`,
			want: domain.TrueFalse,
		},
		{
			name: "true false by judge attr",
			html: `<div class="field" type="3" data-judge="1"><div class="ui-radio"><div class="label">maybe</div></div></div>`,
			want: domain.TrueFalse,
		},
		{
			name: "two unrelated options stay single choice",
			html: `<div class="field" type="3"><div class="ui-radio"><div class="label">Red</div></div><div class="ui-radio"><div class="label">No idea</div></div></div>`,
			want: domain.SingleChoice,
		},
		{
			name: "bare radio inputs",
			html: `<div class="field"><label><input type="radio" name="q9" value="1">One</label><label><input type="radio" name="q9" value="2">Two</label><label><input type="radio" name="q9" value="3">Three</label></div>`,
			want: domain.SingleChoice,
		},
		{
			name: "checkbox",
			html: `<div class="field" type="4"><div class="ui-checkbox"><div class="label">A</div></div></div>`,
			want: domain.MultipleChoice,
		},
		{
			name: "unknown marker falls through",
			html: `<div class="field" type="99"><div class="ui-checkbox"><div class="label">A</div></div></div>`,
			want: domain.MultipleChoice,
		},
		{
			name: "gapfill zero is not a marker",
			html: `<div class="field" type="1" gapfill="0"><input type="text" name="q12"></div>`,
			want: domain.FillBlank,
		},
	}
	d := Default()
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			got, err := d.DetectHTML(c.html)
			if err != nil {
				t.Fatalf("DetectHTML: %v", err)
			}
			if got != c.want {
				t.Fatalf("type: want=%s got=%s", c.want, got)
			}
		})
	}
}

func TestDetectIsIdempotent(t *testing.T) {
	d := Default()
	html := `<div class="field" type="3" gapfill="1"><div class="ui-radio"><div class="label">x</div></div></div>`
	first, _ := d.DetectHTML(html)
	for i := 0; i < 5; i++ {
		again, _ := d.DetectHTML(html)
		if again != first {
			t.Fatalf("run %d: want=%s got=%s", i, first, again)
		}
	}
}

func TestClassifyReportsAmbiguousDefault(t *testing.T) {
	d := Default()
	doc := mustParse(t, `<div class="field"><input type="text"></div>`)
	typ, err := d.Classify(doc)
	if typ != domain.FillBlank || !errors.Is(err, domain.ErrDetectionAmbiguous) {
		t.Fatalf("want FillBlank+ambiguous, got %s %v", typ, err)
	}
}

func TestOptionLabels(t *testing.T) {
	sel := mustParse(t, `<div class="field"><div class="ui-radio"><div class="label">A. First</div></div><div class="ui-radio"><div class="label">2、Second</div></div></div>`)
	got := OptionLabels(sel, DefaultMarkers())
	if len(got) != 2 || got[0] != "First" || got[1] != "Second" {
		t.Fatalf("labels: got=%q", got)
	}
}
