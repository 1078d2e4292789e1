package coordinator

// batchState names where a batch currently sits in the Accumulating ->
// Enriching -> Dispatching -> Committing -> Idle pipeline. It exists only
// for metrics and log context, not as a formal state machine: no library
// in the example pack models FSMs for a pipeline this shape.
type batchState string

const (
	stateAccumulating batchState = "accumulating"
	stateEnriching    batchState = "enriching"
	stateDispatching  batchState = "dispatching"
	stateCommitting   batchState = "committing"
	stateIdle         batchState = "idle"
)
