package reports

import (
	"cmp"
	"fmt"
	"math"
	"regexp"
	"slices"
	"strings"
	"time"

	"github.com/jmcleod/eduportal/internal/util"
)

// nameOverlap is the share of words two subject names must have in common
// to be taken as the same subject.
const nameOverlap = 0.7

// AttendanceSummary is an attendance item enriched with the subject's
// workload from the curriculum and its class count from the schedule.
type AttendanceSummary struct {
	AttendanceItem
	Workload string `json:"workload,omitempty"`
	// OneAbsencePercentage is how much a single absence adds, e.g. "1.25%".
	OneAbsencePercentage string `json:"oneAbsencePercentage,omitempty"`
	ClassesTotal         int    `json:"classesTotal"`
	ClassesHeld          int    `json:"classesHeld"`
	ClassDays            int    `json:"classDays"`
}

// AttendanceOverview lists the summaries, highest absence percentage first.
type AttendanceOverview struct {
	Items []AttendanceSummary `json:"items"`
}

type namedWorkload struct {
	name     string
	workload string
}

type classStats struct {
	name  string
	total int
	days  map[string]struct{}
	times []time.Time
}

// CombineAttendance joins the three reports. The pages share no reliable
// key: workloads are looked up by subject code first and by name second,
// class counts by name only. Names match exactly after normalisation, then
// by containment or word overlap. hist and sched may be nil when their pages
// could not be fetched.
func CombineAttendance(att *Attendance, hist *History, sched *Schedule, now time.Time) *AttendanceOverview {
	byCode := make(map[string]string)
	var byName []namedWorkload
	if hist != nil {
		for _, p := range hist.Periods {
			for _, s := range p.Subjects {
				if _, ok := byCode[s.Code]; !ok {
					byCode[s.Code] = s.Workload
				}
				byName = append(byName, namedWorkload{name: NormalizeSubjectName(s.Name), workload: s.Workload})
			}
		}
	}

	var stats []*classStats
	if sched != nil {
		index := make(map[string]*classStats)
		for _, c := range sched.Classes {
			name := NormalizeSubjectName(c.Subject)
			st, ok := index[name]
			if !ok {
				st = &classStats{name: name, days: make(map[string]struct{})}
				index[name] = st
				stats = append(stats, st)
			}
			st.total++
			if c.StartDateISO != "" {
				st.days[c.StartDateISO] = struct{}{}
				st.times = append(st.times, classTime(c, now.Location()))
			}
		}
	}

	out := &AttendanceOverview{Items: make([]AttendanceSummary, 0, len(att.Items))}
	for _, item := range att.Items {
		sum := AttendanceSummary{AttendanceItem: item}
		name := NormalizeSubjectName(item.Subject)

		workload, ok := byCode[item.Code]
		if !ok {
			for _, w := range byName {
				if SimilarSubjectNames(name, w.name) {
					workload = w.workload
					break
				}
			}
		}
		chValue, chOK := parseDecimal(workload)
		if workload != "" {
			sum.Workload = workload
			if chOK && chValue > 0 {
				sum.OneAbsencePercentage = fmt.Sprintf("%.2f%%", 100/chValue)
			}
		}

		if st := findStats(stats, name); st != nil && st.total > 0 {
			sum.ClassesTotal = st.total
			sum.ClassDays = len(st.days)
			if len(st.times) > 0 {
				for _, t := range st.times {
					if !t.After(now) {
						sum.ClassesHeld++
					}
				}
			} else {
				// No dated classes: estimate from the absence percentage.
				absences := math.Round(item.PercentageValue / 100 * math.Trunc(chValue))
				sum.ClassesHeld = max(0, st.total-int(absences))
			}
		}
		out.Items = append(out.Items, sum)
	}
	slices.SortStableFunc(out.Items, func(a, b AttendanceSummary) int {
		return cmp.Compare(b.PercentageValue, a.PercentageValue)
	})
	return out
}

func findStats(stats []*classStats, name string) *classStats {
	for _, st := range stats {
		if st.name == name {
			return st
		}
	}
	for _, st := range stats {
		if SimilarSubjectNames(name, st.name) {
			return st
		}
	}
	return nil
}

// classTime is when the class starts on its start date, or midnight when
// the start time is missing.
func classTime(c Class, loc *time.Location) time.Time {
	if t, err := time.ParseInLocation("2006-01-02 15:04", c.StartDateISO+" "+c.Start, loc); err == nil {
		return t
	}
	t, _ := time.ParseInLocation("2006-01-02", c.StartDateISO, loc)
	return t
}

var nonWordRe = regexp.MustCompile(`[^\w\s]`)

// NormalizeSubjectName lower-cases name, strips accents and punctuation and
// squeezes whitespace.
func NormalizeSubjectName(name string) string {
	name = util.FoldAccents(strings.ToLower(name))
	return util.CollapseSpace(nonWordRe.ReplaceAllString(name, ""))
}

// SimilarSubjectNames reports whether a and b name the same subject: equal
// or containing one another after normalisation, or sharing at least 70% of
// the words of the longer name.
func SimilarSubjectNames(a, b string) bool {
	a, b = NormalizeSubjectName(a), NormalizeSubjectName(b)
	if a == "" || b == "" {
		return false
	}
	if a == b || strings.Contains(a, b) || strings.Contains(b, a) {
		return true
	}
	wa, wb := strings.Fields(a), strings.Fields(b)
	common := 0
	for _, w := range wa {
		if slices.Contains(wb, w) {
			common++
		}
	}
	return float64(common)/float64(max(len(wa), len(wb))) >= nameOverlap
}
