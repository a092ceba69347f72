package appointment

// Effect is the Availability Ledger side effect a transition carries.
type Effect int

const (
	// EffectNone leaves the ledger untouched.
	EffectNone Effect = iota
	// EffectPromoteHold converts the booking's hold into an appointment
	// interval, invalidating competing holds.
	EffectPromoteHold
	// EffectReleaseInterval removes the booking's interval, freeing the slot
	// (or, after the consultation ends, recording the time as consumed).
	EffectReleaseInterval
)

type transitionKey struct {
	from Status
	role ActorRole
	to   Status
}

// transitions is the closed set of legal moves. A (from, role, to) triple
// absent from this table is rejected before any state is touched.
var transitions = map[transitionKey]Effect{
	{StatusPending, RoleDoctor, StatusConfirmed}:           EffectPromoteHold,
	{StatusPending, RoleDoctor, StatusRejected}:            EffectReleaseInterval,
	{StatusPending, RolePatient, StatusCancelledByPatient}: EffectReleaseInterval,
	{StatusPending, RoleSystem, StatusExpired}:             EffectReleaseInterval,

	{StatusConfirmed, RoleDoctor, StatusCheckedIn}:           EffectNone,
	{StatusConfirmed, RoleDoctor, StatusCancelledByDoctor}:   EffectReleaseInterval,
	{StatusConfirmed, RolePatient, StatusCancelledByPatient}: EffectReleaseInterval,

	{StatusPending, RoleDoctor, StatusNoShow}:   EffectReleaseInterval,
	{StatusConfirmed, RoleDoctor, StatusNoShow}: EffectReleaseInterval,
	{StatusCheckedIn, RoleDoctor, StatusNoShow}: EffectReleaseInterval,

	{StatusCheckedIn, RoleDoctor, StatusInProgress}: EffectNone,
	{StatusInProgress, RoleDoctor, StatusReview}:    EffectReleaseInterval,
	{StatusReview, RoleDoctor, StatusCompleted}:     EffectNone,
}

// Resolve validates a requested move against the transition table.
// It distinguishes a move no actor may make (InvalidTransitionError) from a
// move that exists but belongs to a different role (PermissionDeniedError).
func Resolve(from Status, role ActorRole, to Status) (Effect, error) {
	if eff, ok := transitions[transitionKey{from, role, to}]; ok {
		return eff, nil
	}
	for _, other := range []ActorRole{RoleDoctor, RolePatient, RoleSystem} {
		if other == role {
			continue
		}
		if _, ok := transitions[transitionKey{from, other, to}]; ok {
			return EffectNone, &PermissionDeniedError{Role: role, From: from, To: to}
		}
	}
	return EffectNone, &InvalidTransitionError{From: from, To: to}
}
