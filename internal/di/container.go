package di

import (
	"github.com/aihub/usage-core/internal/config"
	"go.uber.org/dig"
)

// Container 是依赖注入容器的全局实例
var Container *dig.Container

// InitContainer 初始化依赖注入容器并注册全部依赖
func InitContainer(cfg *config.Config) (*dig.Container, error) {
	container := dig.New()
	if err := RegisterProviders(container, cfg); err != nil {
		return nil, err
	}
	Container = container
	return Container, nil
}

// GetContainer 获取依赖注入容器实例
func GetContainer() *dig.Container {
	return Container
}

// Invoke 封装dig.Invoke，提供更友好的接口
func Invoke(function interface{}, opts ...dig.InvokeOption) error {
	return Container.Invoke(function, opts...)
}
