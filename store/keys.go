package store

// Key naming below the configured namespace (default "workflow"). The
// layout is stable: external tooling may inspect the store directly.
//
//	workflow:run:<runId>                 -> Run
//	workflow:runs:index                  -> [runId...]
//	workflow:step:<runId>:<stepId>       -> Step
//	workflow:steps:index:<runId>         -> [stepId...]
//	workflow:event:<runId>:<eventId>     -> Event
//	workflow:events:index:<runId>        -> [eventId...]
//	workflow:event:counter:<runId>       -> integer
//	workflow:hook:<token>                -> Hook
//	workflow:cache:<cacheKey>            -> CacheRef
//	workflow:intent:<intentId>           -> write intent (crash repair)
//	workflow:intents:index               -> [intentId...]

// runKey returns the key for a run record.
func runKey(runID string) string { return "run:" + runID }

// runsIndexKey is the index tracking all run IDs for enumeration.
const runsIndexKey = "runs:index"

// stepKey returns the key for a step record.
func stepKey(runID, stepID string) string { return "step:" + runID + ":" + stepID }

// stepsIndexKey returns the per-run index of step IDs.
func stepsIndexKey(runID string) string { return "steps:index:" + runID }

// eventKey returns the key for an event record.
func eventKey(runID, eventID string) string { return "event:" + runID + ":" + eventID }

// eventsIndexKey returns the per-run index of event IDs.
func eventsIndexKey(runID string) string { return "events:index:" + runID }

// eventCounterKey returns the per-run event sequence counter.
func eventCounterKey(runID string) string { return "event:counter:" + runID }

// hookKey returns the key for a hook record.
func hookKey(token string) string { return "hook:" + token }

// cacheRefKey returns the key for a cache-key → (run, step) mapping.
func cacheRefKey(cacheKey string) string { return "cache:" + cacheKey }

// intentKey returns the key for a write-ahead intent record.
func intentKey(intentID string) string { return "intent:" + intentID }

// intentsIndexKey is the index tracking pending intent IDs.
const intentsIndexKey = "intents:index"
