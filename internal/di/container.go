package di

import (
	"go.uber.org/dig"
)

// NewContainer 创建并注册全部依赖提供者
func NewContainer() (*dig.Container, error) {
	container := dig.New()
	if err := RegisterProviders(container); err != nil {
		return nil, err
	}
	return container, nil
}
