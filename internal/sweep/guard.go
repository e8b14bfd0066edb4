package sweep

// GuardedPlan is a plan that passed the threshold guard. Only guarded plans
// can be executed.
type GuardedPlan struct {
	plan *SweepPlan
}

// Plan returns the guarded plan.
func (g *GuardedPlan) Plan() *SweepPlan { return g.plan }

// Abort is the guard's refusal to execute a plan.
type Abort struct {
	Reason string
	// Limit is the cap that was exceeded, if the abort came from the cap.
	Limit *int
	Plan  *SweepPlan
}

// Guard inspects a filtered plan. It returns exactly one of a GuardedPlan
// or an Abort. A nil maxDeletes means no cap.
func Guard(plan *SweepPlan, maxDeletes *int) (*GuardedPlan, *Abort) {
	if plan.Blocked != "" {
		return nil, &Abort{Reason: plan.Blocked, Plan: plan}
	}
	if maxDeletes != nil && plan.TotalCandidates > *maxDeletes {
		limit := *maxDeletes
		return nil, &Abort{Reason: ReasonExceedsMaxDeletes, Limit: &limit, Plan: plan}
	}
	return &GuardedPlan{plan: plan}, nil
}
