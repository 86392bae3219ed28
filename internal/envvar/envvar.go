package envvar

const (
	// ModelforgeEnv is the environment variable used to determine the environment
	ModelforgeEnv = "MODELFORGE_ENV"

	// ModelforgeModelsPath is the environment variable used to override the model cache root
	ModelforgeModelsPath = "MODELFORGE_MODELS_PATH"

	// ModelforgeTVMC is the environment variable used to locate the tvmc binary
	ModelforgeTVMC = "MODELFORGE_TVMC"

	// ModelforgeServerGRPCPort is the environment variable used to determine the gRPC port
	ModelforgeServerGRPCPort = "MODELFORGE_SERVER_GRPC_PORT"
)
