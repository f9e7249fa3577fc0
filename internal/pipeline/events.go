package pipeline

import "fmt"

// Stage identifies which part of a publish run produced an event.
type Stage string

const (
	StageSetup    Stage = "setup"
	StageSequence Stage = "sequence"
	StageConvert  Stage = "convert"
	StageUpload   Stage = "upload"
	StagePin      Stage = "pin"
	StageCatalog  Stage = "catalog"
	StageFleet    Stage = "fleet"
	StageCampaign Stage = "campaign"
)

// Event is one progress update from a publish run. Updates from every
// stage, including the fleet's concurrent pollers and the campaign loop,
// arrive on a single channel so the consumer never deals with callbacks
// firing from background goroutines.
type Event struct {
	Stage   Stage
	Message string
}

func (e Event) String() string {
	return fmt.Sprintf("[%s] %s", e.Stage, e.Message)
}
