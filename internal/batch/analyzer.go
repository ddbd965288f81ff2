package batch

import (
	"fmt"
)

// Default analyzer thresholds.
const (
	DefaultMassDowngradeThreshold = 3
	DefaultLargeBatchThreshold    = 20
)

// Analyzer classifies work items against a target state and raises policy
// warnings. It performs no I/O and holds no mutable state, so the same
// input always produces the same output.
type Analyzer struct {
	// MassDowngradeThreshold is the downgrade count at or above which a
	// High mass-downgrade warning is raised.
	MassDowngradeThreshold int
	// LargeBatchThreshold is the item count above which an Info
	// large-batch warning is raised.
	LargeBatchThreshold int
}

// NewAnalyzer returns an Analyzer with the given thresholds. Non-positive
// values fall back to the defaults.
func NewAnalyzer(massDowngrade, largeBatch int) Analyzer {
	if massDowngrade <= 0 {
		massDowngrade = DefaultMassDowngradeThreshold
	}

	if largeBatch <= 0 {
		largeBatch = DefaultLargeBatchThreshold
	}

	return Analyzer{
		MassDowngradeThreshold: massDowngrade,
		LargeBatchThreshold:    largeBatch,
	}
}

// Classify returns the change type for moving from current to target.
// A nil current state is New. An unknown current state ranks above every
// concrete target, so moving away from it is always a Downgrade.
func Classify(current *State, target State) ChangeType {
	switch {
	case current == nil:
		return ChangeNew
	case current.Unknown:
		return ChangeDowngrade
	case current.ID == target.ID:
		return ChangeSame
	}

	cur := current.effectiveRank()

	switch {
	case target.Rank > cur:
		return ChangeUpgrade
	case target.Rank < cur:
		return ChangeDowngrade
	default:
		return ChangeUnchanged
	}
}

// Analyze classifies every item against target and evaluates all warning
// rules. The input slice is not modified; classified copies are returned
// with Desired set to target.
func (a Analyzer) Analyze(items []WorkItem, target State) ([]WorkItem, []Warning) {
	classified := make([]WorkItem, len(items))
	counts := make(map[ChangeType]int, len(AllChangeTypes))

	for i := range items {
		item := items[i]
		if item.Current != nil {
			cur := *item.Current
			item.Current = &cur
		}

		item.Desired = target
		item.Change = Classify(item.Current, target)
		counts[item.Change]++
		classified[i] = item
	}

	return classified, a.warnings(len(items), counts, target)
}

// warnings evaluates every rule independently; more than one may fire.
func (a Analyzer) warnings(total int, counts map[ChangeType]int, target State) []Warning {
	var out []Warning

	downgrades := counts[ChangeDowngrade]
	upgrades := counts[ChangeUpgrade]

	if downgrades >= a.MassDowngradeThreshold {
		out = append(out, Warning{
			Severity: SeverityHigh,
			Code:     WarnMassDowngrade,
			Message:  fmt.Sprintf("%d items will be downgraded to %s; a justification is required", downgrades, target.Label()),
		})
	}

	if total > a.LargeBatchThreshold {
		out = append(out, Warning{
			Severity: SeverityInfo,
			Code:     WarnLargeBatch,
			Message:  fmt.Sprintf("large batch: %d items", total),
		})
	}

	if counts[ChangeNew]+upgrades+downgrades == 0 && counts[ChangeSame] > 0 {
		out = append(out, Warning{
			Severity: SeverityInfo,
			Code:     WarnNoOp,
			Message:  fmt.Sprintf("%d items already carry %s; nothing will change", counts[ChangeSame], target.Label()),
		})
	}

	if target.RequiresProtection {
		out = append(out, Warning{
			Severity: SeverityHigh,
			Code:     WarnProtectionRequired,
			Message:  fmt.Sprintf("%s applies protection; access will be limited to the listed grantees", target.Label()),
		})
	}

	if upgrades > 0 && downgrades > 0 {
		out = append(out, Warning{
			Severity: SeverityMedium,
			Code:     WarnMixedDirection,
			Message:  fmt.Sprintf("mixed direction: %d upgrades and %d downgrades", upgrades, downgrades),
		})
	}

	return out
}

// CountChanges tallies classified items by change type.
func CountChanges(items []WorkItem) map[ChangeType]int {
	counts := make(map[ChangeType]int, len(AllChangeTypes))
	for i := range items {
		counts[items[i].Change]++
	}

	return counts
}

// HighestSeverity returns the most severe level among warnings, and false
// when there are none.
func HighestSeverity(warnings []Warning) (Severity, bool) {
	if len(warnings) == 0 {
		return SeverityInfo, false
	}

	highest := warnings[0].Severity
	for _, w := range warnings[1:] {
		if w.Severity > highest {
			highest = w.Severity
		}
	}

	return highest, true
}
