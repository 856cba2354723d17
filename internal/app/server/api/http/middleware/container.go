package middleware

import "github.com/danielgtaylor/huma/v2"

type Func = func(ctx huma.Context, next func(huma.Context))

// Container собирает цепочки мидлварей для групп маршрутов API:
// общие (логирование) идут первыми, проверка bearer-токена только у административных
type Container struct {
	common huma.Middlewares
	admin  huma.Middlewares
}

func NewContainer(common ...Func) *Container {
	return &Container{common: common}
}

// RequireToken задает мидлвари административной группы
func (c *Container) RequireToken(admin ...Func) *Container {
	c.admin = append(c.admin, admin...)
	return c
}

// Public цепочка для маршрутов без токена: health и вебхук, который проверяет подпись сам
func (c *Container) Public(extra ...Func) huma.Middlewares {
	return c.chain(nil, extra)
}

// Admin цепочка для маршрутов под bearer-токеном
func (c *Container) Admin(extra ...Func) huma.Middlewares {
	return c.chain(c.admin, extra)
}

// chain каждый раз возвращает новый срез, чтобы операции не делили общий массив
func (c *Container) chain(group huma.Middlewares, extra []Func) huma.Middlewares {
	out := make(huma.Middlewares, 0, len(c.common)+len(group)+len(extra))
	out = append(out, c.common...)
	out = append(out, group...)
	return append(out, extra...)
}
