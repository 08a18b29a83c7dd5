package recommend

import (
	"errors"

	"recipe_recommend/internal/artifact"
	"recipe_recommend/internal/model"
)

var (
	// ErrUnknownModelVariant 请求的变体不存在或未配置
	ErrUnknownModelVariant = model.ErrUnknownVariant
	// ErrInvalidArgument 参数非法：n <= 0、limit <= 0、空用户标识、未知决胜规则
	ErrInvalidArgument = errors.New("invalid argument")
)

// ArtifactLoadError 制品加载失败，构建期出现时服务拒绝启动
type ArtifactLoadError = artifact.LoadError
