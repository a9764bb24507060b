package pipeline

// State is a step of a run
type State int

const (
	Idle State = iota
	LoadingTrainingData
	Preprocessing
	Training
	LoadingTestingData
	Predicting
	Done
	Failed
)

var stateNames = map[State]string{
	Idle:                "idle",
	LoadingTrainingData: "loading_training_data",
	Preprocessing:       "preprocessing",
	Training:            "training",
	LoadingTestingData:  "loading_testing_data",
	Predicting:          "predicting",
	Done:                "done",
	Failed:              "failed",
}

func (s State) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return "unknown"
}

// Terminal reports whether no further transition follows s
func (s State) Terminal() bool {
	return s == Done || s == Failed
}
