package envvar

const (
	// ModelportEnv is the environment variable used to determine the environment
	ModelportEnv = "MODELPORT_ENV"

	// ModelportConfig is the environment variable used to locate the config file
	ModelportConfig = "MODELPORT_CONFIG"

	// ModelportModelsDir is the environment variable used to override the base directory of model checkpoints
	ModelportModelsDir = "MODELPORT_MODELS_DIR"

	// ModelportPython is the environment variable used to select the Python interpreter
	ModelportPython = "MODELPORT_PYTHON"
)
