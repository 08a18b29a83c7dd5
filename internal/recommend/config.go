package recommend

import (
	"fmt"
	"time"

	"recipe_recommend/internal/artifact"
	"recipe_recommend/internal/model"

	"github.com/go-playground/validator/v10"
)

// Config 查询服务的全部配置，由调用方显式传入
type Config struct {
	Artifacts ArtifactsConfig `mapstructure:"artifacts" yaml:"artifacts"`
	// DefaultN 仅供省略 n 的外层调用 (HTTP / CLI) 使用
	DefaultN int `mapstructure:"default_n" yaml:"default_n" validate:"gte=1,lte=1000"`
	// MaxN 外层调用允许的最大 n，0 表示不限制
	MaxN     int           `mapstructure:"max_n" yaml:"max_n" validate:"gte=0"`
	TieBreak string        `mapstructure:"tie_break" yaml:"tie_break" validate:"omitempty,oneof=recipe_id_asc recipe_id_desc source_order"`
	Models   []ModelConfig `mapstructure:"models" yaml:"models" validate:"unique=Variant,dive"`
	Remote   RemoteConfig  `mapstructure:"remote" yaml:"remote"`
}

// ArtifactsConfig 制品位置
type ArtifactsConfig struct {
	Scores        []artifact.Source `mapstructure:"scores" yaml:"scores" validate:"required,min=1,dive"`
	Catalog       artifact.Source   `mapstructure:"catalog" yaml:"catalog"`
	UserMap       string            `mapstructure:"user_map" yaml:"user_map"`
	Watch         bool              `mapstructure:"watch" yaml:"watch"`
	WatchDebounce time.Duration     `mapstructure:"watch_debounce" yaml:"watch_debounce"`
}

// ModelConfig 一个模型变体的展示信息与参数
type ModelConfig struct {
	Variant string `mapstructure:"variant" yaml:"variant" validate:"required,oneof=simple hybrid"`
	Label   string `mapstructure:"label" yaml:"label"`
	// Alpha 是 hybrid 的混合权重 α·latent + (1-α)·content，0 表示未配置
	Alpha float64 `mapstructure:"alpha" yaml:"alpha" validate:"omitempty,gt=0,lt=1"`
	RMSE  float64 `mapstructure:"rmse" yaml:"rmse" validate:"gte=0"`
	MAE   float64 `mapstructure:"mae" yaml:"mae" validate:"gte=0"`
}

// RemoteConfig 远程制品的拉取参数
type RemoteConfig struct {
	Token    string        `mapstructure:"token" yaml:"token"`
	Timeout  time.Duration `mapstructure:"timeout" yaml:"timeout"`
	MaxBytes int64         `mapstructure:"max_bytes" yaml:"max_bytes" validate:"gte=0"`
}

// DefaultConfig 返回带默认值的配置，制品路径需要调用方补齐
func DefaultConfig() Config {
	return Config{
		DefaultN: 20,
		TieBreak: string(model.TieBreakRecipeIDAsc),
		Models: []ModelConfig{
			{Variant: string(model.VariantSimple), Label: "Hybrid Simple (SVD)"},
			{Variant: string(model.VariantHybrid), Label: "Hybrid Best (Fine-tuned Hybrid)"},
		},
		Remote: RemoteConfig{Timeout: 60 * time.Second},
	}
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate 校验配置
func (c Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

func (c Config) modelConfig(v model.ModelVariant) (ModelConfig, bool) {
	for _, m := range c.Models {
		if model.ModelVariant(m.Variant) == v {
			return m, true
		}
	}
	return ModelConfig{}, false
}

// sourcePaths 返回需要监听的全部制品路径
func (c Config) sourcePaths() []string {
	paths := make([]string, 0, len(c.Artifacts.Scores)+2)
	for _, s := range c.Artifacts.Scores {
		paths = append(paths, s.Path)
	}
	paths = append(paths, c.Artifacts.Catalog.Path)
	if c.Artifacts.UserMap != "" {
		paths = append(paths, c.Artifacts.UserMap)
	}
	return paths
}
