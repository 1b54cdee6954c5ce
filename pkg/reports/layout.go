package reports

import (
	"fmt"
	"sort"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"

	"github.com/nourishpath/platform/pkg/common/models"
	"github.com/nourishpath/platform/pkg/journey"
	"github.com/nourishpath/platform/pkg/rolegate"
)

const (
	DefaultNutritionistName = "Certified Nutritionist"
	dateLayout              = "02 Jan 2006"

	disclaimer = "This report summarises information recorded during your wellness programme. " +
		"It is not a medical diagnosis. Consult your physician before making significant changes to your diet or treatment."
)

// Line is one paragraph of body text.
type Line struct {
	Text   string
	Indent int
	Bullet bool
	Bold   bool
}

// Section is a titled block. Table rows render as a two-column grid before
// any lines.
type Section struct {
	Heading   string
	PageBreak bool
	Table     [][2]string
	Lines     []Line
}

// Layout is the renderer-independent description of a report.
type Layout struct {
	Title       string
	GeneratedAt time.Time
	Patient     [][2]string
	Sections    []Section
	Disclaimer  string
}

func patientRows(customer models.User) [][2]string {
	name := strings.TrimSpace(customer.Name)
	if name == "" {
		name = "Not provided"
	}
	rows := [][2]string{{"Name", name}}
	if customer.Email != "" {
		rows = append(rows, [2]string{"Email", customer.Email})
	}
	return append(rows, [2]string{"Customer ID", customer.ID.String()})
}

func formatDate(t time.Time) string {
	return t.UTC().Format(dateLayout)
}

// humanize turns identifiers like "in_progress" into "In Progress".
func humanize(value string) string {
	words := strings.Fields(strings.ReplaceAll(value, "_", " "))
	for i, word := range words {
		r, size := utf8.DecodeRuneInString(word)
		words[i] = string(unicode.ToUpper(r)) + word[size:]
	}
	return strings.Join(words, " ")
}

func macroSection(heading string, macros models.Macros) Section {
	section := Section{Heading: heading}
	switch {
	case len(macros.Entries) > 0:
		for _, entry := range macros.Entries {
			section.Table = append(section.Table, [2]string{humanize(entry.Name), entry.Value})
		}
	case macros.Text != "":
		section.Lines = []Line{{Text: macros.Text}}
	default:
		section.Lines = []Line{{Text: "No macronutrient targets recorded."}}
	}
	return section
}

func weeklyPlanLines(plan models.WeeklyPlan) []Line {
	if len(plan.Days) == 0 {
		return []Line{{Text: plan.Text}}
	}
	var lines []Line
	for _, day := range plan.Days {
		lines = append(lines, Line{Text: day.Day, Bold: true})
		if len(day.Meals) == 0 {
			lines = append(lines, Line{Text: day.Text, Indent: 1, Bullet: true})
			continue
		}
		for _, meal := range day.Meals {
			lines = append(lines, Line{Text: fmt.Sprintf("%s: %s", meal.Slot, meal.Description), Indent: 1, Bullet: true})
		}
	}
	return lines
}

// BuildDietChart lays out the customer's active diet plan.
func BuildDietChart(customer models.User, plan models.DietPlan, nutritionist string, now time.Time) Layout {
	if strings.TrimSpace(nutritionist) == "" {
		nutritionist = DefaultNutritionistName
	}
	patient := append(patientRows(customer),
		[2]string{"Plan revision", fmt.Sprintf("%d", plan.Revision)},
		[2]string{"Prepared on", formatDate(plan.CreatedAt)},
	)

	sections := []Section{macroSection("Macronutrient Targets", plan.Macros)}
	if !plan.WeeklyPlan.IsEmpty() {
		sections = append(sections, Section{Heading: "Weekly Meal Plan", Lines: weeklyPlanLines(plan.WeeklyPlan)})
	}
	sections = append(sections, Section{
		Heading: "Prepared By",
		Lines:   []Line{{Text: nutritionist, Bold: true}, {Text: "Nutritionist"}},
	})

	return Layout{
		Title:       "Personalized Diet Chart",
		GeneratedAt: now,
		Patient:     patient,
		Sections:    sections,
		Disclaimer:  disclaimer,
	}
}

// JourneyData is everything the consolidated report reads. Any part may be
// empty.
type JourneyData struct {
	Customer  models.User
	Stages    []models.StageProgress
	Documents []models.Document
	Plan      *models.DietPlan
	Tasks     []models.Acknowledgement
}

// BuildConsolidated lays out the full journey record.
func BuildConsolidated(data JourneyData, now time.Time) Layout {
	byStage := make(map[int]models.StageProgress, len(data.Stages))
	completed := 0
	for _, progress := range data.Stages {
		byStage[progress.Stage] = progress
		if progress.Status == models.StageStatusCompleted {
			completed++
		}
	}
	docsByStage := make(map[int][]models.Document)
	var unstaged []models.Document
	for _, doc := range data.Documents {
		if doc.Stage == nil {
			unstaged = append(unstaged, doc)
			continue
		}
		docsByStage[*doc.Stage] = append(docsByStage[*doc.Stage], doc)
	}

	stageNumbers := make([]int, 0, len(byStage)+len(docsByStage))
	for stage := range byStage {
		stageNumbers = append(stageNumbers, stage)
	}
	for stage := range docsByStage {
		if _, ok := byStage[stage]; !ok {
			stageNumbers = append(stageNumbers, stage)
		}
	}
	sort.Ints(stageNumbers)

	patient := append(patientRows(data.Customer),
		[2]string{"Stages completed", fmt.Sprintf("%d of %d", completed, rolegate.LastStage)},
	)

	var sections []Section
	for _, stage := range stageNumbers {
		sections = append(sections, stageSection(stage, byStage[stage], docsByStage[stage]))
	}
	if len(unstaged) > 0 {
		sections = append(sections, Section{Heading: "Other Documents", Lines: documentLines(unstaged)})
	}
	if data.Plan != nil {
		summary := macroSection("Diet Plan Summary", data.Plan.Macros)
		summary.PageBreak = true
		summary.Lines = append([]Line{{Text: fmt.Sprintf("Revision %d, saved %s", data.Plan.Revision, formatDate(data.Plan.CreatedAt)), Bold: true}}, summary.Lines...)
		if !data.Plan.WeeklyPlan.IsEmpty() {
			summary.Lines = append(summary.Lines, Line{Text: "Weekly plan", Bold: true})
			summary.Lines = append(summary.Lines, weeklyPlanLines(data.Plan.WeeklyPlan)...)
		}
		sections = append(sections, summary)
	}
	history := Section{Heading: "Task History", PageBreak: true}
	for _, task := range data.Tasks {
		history.Lines = append(history.Lines, Line{
			Text:   fmt.Sprintf("%s - %s (created %s)", humanize(task.TaskType), humanize(task.Status), formatDate(task.CreatedAt)),
			Bullet: true,
		})
	}
	if len(history.Lines) == 0 {
		history.Lines = append(history.Lines, Line{Text: "No tasks recorded."})
	}
	sections = append(sections, history)

	return Layout{
		Title:       "Wellness Journey Report",
		GeneratedAt: now,
		Patient:     patient,
		Sections:    sections,
		Disclaimer:  disclaimer,
	}
}

func stageSection(stage int, progress models.StageProgress, docs []models.Document) Section {
	status := progress.Status
	if status == "" {
		status = models.StageStatusPending
	}
	lines := []Line{{Text: "Status: " + humanize(status)}}
	if progress.CompletedAt != nil {
		lines = append(lines, Line{Text: "Completed: " + formatDate(*progress.CompletedAt)})
	}
	if len(docs) == 0 {
		lines = append(lines, Line{Text: "No documents uploaded."})
	} else {
		lines = append(lines, Line{Text: "Documents", Bold: true})
		lines = append(lines, documentLines(docs)...)
	}
	return Section{
		Heading: fmt.Sprintf("Stage %d: %s", stage, journey.StageName(stage)),
		Lines:   lines,
	}
}

func documentLines(docs []models.Document) []Line {
	lines := make([]Line, 0, len(docs))
	for _, doc := range docs {
		lines = append(lines, Line{
			Text:   fmt.Sprintf("%s (uploaded %s)", doc.Label, formatDate(doc.UploadedAt)),
			Indent: 1,
			Bullet: true,
		})
	}
	return lines
}
