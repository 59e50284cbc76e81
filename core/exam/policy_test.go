package exam

import "testing"

func TestPolicyFor(t *testing.T) {
	tests := []struct {
		category Category
		want     CategoryPolicy
	}{
		{
			category: CategoryPractice,
			want: CategoryPolicy{
				Category:       CategoryPractice,
				RequireConfig:  true,
				NavigationMode: NavigationFree,
			},
		},
		{
			category: CategoryTest,
			want: CategoryPolicy{
				Category:            CategoryTest,
				Monitor:             true,
				RequireFullscreen:   true,
				MouseLeaveViolation: true,
				RequireConfig:       true,
				NavigationMode:      NavigationFree,
				ViolationThreshold:  10,
			},
		},
		{
			category: CategoryRecruitment,
			want: CategoryPolicy{
				Category:              CategoryRecruitment,
				Monitor:               true,
				RequireFullscreen:     true,
				AutoReenterFullscreen: true,
				MouseLeaveViolation:   true,
				RequireInvitation:     true,
				NavigationMode:        NavigationLinear,
				ViolationThreshold:    10,
			},
		},
		{
			category: CategoryCompetition,
			want: CategoryPolicy{
				Category:              CategoryCompetition,
				Monitor:               true,
				RequireFullscreen:     true,
				AutoReenterFullscreen: true,
				MouseLeaveViolation:   true,
				NavigationMode:        NavigationLinear,
				ViolationThreshold:    10,
			},
		},
		{
			category: CategoryChallenge,
			want: CategoryPolicy{
				Category:              CategoryChallenge,
				Monitor:               true,
				RequireFullscreen:     true,
				AutoReenterFullscreen: true,
				MouseLeaveViolation:   true,
				NavigationMode:        NavigationLinear,
				ViolationThreshold:    10,
			},
		},
	}
	for _, tt := range tests {
		t.Run(string(tt.category), func(t *testing.T) {
			if got := PolicyFor(tt.category); got != tt.want {
				t.Errorf("PolicyFor() = %+v; want %+v", got, tt.want)
			}
		})
	}
}

// an unknown category must fail closed into the strictest monitored policy
func TestPolicyFor_UnknownCategory(t *testing.T) {
	got := PolicyFor(Category("certification"))
	if got != categoryPolicies[CategoryChallenge] {
		t.Errorf("PolicyFor() = %+v; want challenge policy", got)
	}
}

func TestCategoryPolicy_ForcesSubmission(t *testing.T) {
	tests := []struct {
		name     string
		category Category
		count    int
		want     bool
	}{
		{"test below threshold", CategoryTest, 9, false},
		{"test at threshold", CategoryTest, 10, true},
		{"test above threshold", CategoryTest, 11, true},
		{"practice never forces", CategoryPractice, 100, false},
		{"recruitment at threshold", CategoryRecruitment, 10, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := PolicyFor(tt.category).ForcesSubmission(tt.count); got != tt.want {
				t.Errorf("ForcesSubmission(%d) = %v; want %v", tt.count, got, tt.want)
			}
		})
	}
}

func TestCategoryPolicy_ForcesSubmission_ZeroThreshold(t *testing.T) {
	p := CategoryPolicy{Monitor: true, ViolationThreshold: 0}
	if p.ForcesSubmission(1000) {
		t.Error("ForcesSubmission() = true; a zero threshold must never force")
	}
}
