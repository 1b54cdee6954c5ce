package journey

import "github.com/nourishpath/platform/pkg/rolegate"

var stageNames = [rolegate.LastStage]string{
	"Consultation",
	"Test Collection",
	"Diagnosis & Discussion",
	"Diet Chart",
	"Payment",
	"Meal Delivery",
}

// StageName returns the display name for a stage number.
func StageName(stage int) string {
	if !rolegate.ValidStage(stage) {
		return "Unknown"
	}
	return stageNames[stage-1]
}

// downstreamTask is the acknowledgement raised for the next role once a
// stage completes.
type downstreamTask struct {
	TaskType string
	Stage    int
	Role     rolegate.Role
}

var completionTriggers = map[int]downstreamTask{
	1: {TaskType: "sample_collection_due", Stage: 2, Role: rolegate.RoleLabTechnician},
	3: {TaskType: "diet_chart_ready", Stage: 4, Role: rolegate.RoleNutritionist},
	4: {TaskType: "payment_pending", Stage: 5, Role: rolegate.RoleAdmin},
}
