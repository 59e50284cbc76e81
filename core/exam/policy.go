package exam

// CategoryPolicy describes how strictly a category is proctored: whether
// monitoring runs at all, whether fullscreen is mandatory (and re-entered
// automatically), whether mouse-leave counts as a violation, and how many
// violations force a submission. Constant for the process; not user-mutable.
type CategoryPolicy struct {
	Category              Category
	Monitor               bool
	RequireFullscreen     bool
	AutoReenterFullscreen bool
	MouseLeaveViolation   bool
	RequireConfig         bool
	RequireInvitation     bool
	NavigationMode        NavigationMode
	ViolationThreshold    int // 0 = never force-submit
}

// defaultThreshold applies to every monitored category. Kept per-category
// in the table so ops can diverge later without code surgery elsewhere.
const defaultThreshold = 10

var categoryPolicies = map[Category]CategoryPolicy{
	CategoryPractice: {
		Category:       CategoryPractice,
		Monitor:        false,
		RequireConfig:  true,
		NavigationMode: NavigationFree,
	},
	CategoryTest: {
		Category:            CategoryTest,
		Monitor:             true,
		RequireFullscreen:   true,
		MouseLeaveViolation: true,
		RequireConfig:       true,
		NavigationMode:      NavigationFree,
		ViolationThreshold:  defaultThreshold,
	},
	CategoryRecruitment: {
		Category:              CategoryRecruitment,
		Monitor:               true,
		RequireFullscreen:     true,
		AutoReenterFullscreen: true,
		MouseLeaveViolation:   true,
		RequireInvitation:     true,
		NavigationMode:        NavigationLinear,
		ViolationThreshold:    defaultThreshold,
	},
	CategoryCompetition: {
		Category:              CategoryCompetition,
		Monitor:               true,
		RequireFullscreen:     true,
		AutoReenterFullscreen: true,
		MouseLeaveViolation:   true,
		NavigationMode:        NavigationLinear,
		ViolationThreshold:    defaultThreshold,
	},
	CategoryChallenge: {
		Category:              CategoryChallenge,
		Monitor:               true,
		RequireFullscreen:     true,
		AutoReenterFullscreen: true,
		MouseLeaveViolation:   true,
		NavigationMode:        NavigationLinear,
		ViolationThreshold:    defaultThreshold,
	},
}

// PolicyFor looks up the policy for a category. Unknown categories get the
// strictest monitored policy so a misconfigured exam fails closed.
func PolicyFor(c Category) CategoryPolicy {
	if p, ok := categoryPolicies[c]; ok {
		return p
	}
	return categoryPolicies[CategoryChallenge]
}

// ForcesSubmission reports whether reaching `count` violations crosses the
// category threshold. The check is monotonic: once true for a count, it is
// true for every larger count, and violations are never retracted.
func (p CategoryPolicy) ForcesSubmission(count int) bool {
	return p.Monitor && p.ViolationThreshold > 0 && count >= p.ViolationThreshold
}
