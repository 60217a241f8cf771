package scraper

import (
	"context"
	"errors"
	"sync"
	"time"
)

var errUnsupported = errors.New("not supported by fake page")

// fakePage is an in-memory Page. Unset hooks fall back to simple defaults.
type fakePage struct {
	mu sync.Mutex

	url     string
	content func() string

	gotoFn     func(ctx context.Context, url string) error
	waitFn     func(selector string) error
	countFn    func(selector string) int
	attrFn     func(selector, name string) (string, bool)
	clickFn    func(selector string) error
	evaluateFn func(script string, arg interface{}) (interface{}, error)

	visited   []string
	fills     map[string]string
	clicks    []string
	humanized int
}

func (p *fakePage) Goto(ctx context.Context, url string) error {
	p.mu.Lock()
	p.visited = append(p.visited, url)
	fn := p.gotoFn
	p.mu.Unlock()

	if fn != nil {
		return fn(ctx, url)
	}
	p.setURL(url)
	return nil
}

func (p *fakePage) setURL(url string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.url = url
}

func (p *fakePage) URL() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.url
}

func (p *fakePage) Content() (string, error) {
	if p.content == nil {
		return "", nil
	}
	return p.content(), nil
}

func (p *fakePage) WaitForSelector(selector string, _ time.Duration) error {
	if p.waitFn != nil {
		return p.waitFn(selector)
	}
	return nil
}

func (p *fakePage) Count(selector string) (int, error) {
	if p.countFn != nil {
		return p.countFn(selector), nil
	}
	return 0, nil
}

func (p *fakePage) Attribute(selector, name string) (string, bool, error) {
	if p.attrFn != nil {
		v, ok := p.attrFn(selector, name)
		return v, ok, nil
	}
	return "", false, nil
}

func (p *fakePage) Fill(selector, value string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.fills == nil {
		p.fills = make(map[string]string)
	}
	p.fills[selector] = value
	return nil
}

func (p *fakePage) Click(selector string) error {
	p.mu.Lock()
	p.clicks = append(p.clicks, selector)
	fn := p.clickFn
	p.mu.Unlock()

	if fn != nil {
		return fn(selector)
	}
	return nil
}

func (p *fakePage) Evaluate(script string, arg interface{}) (interface{}, error) {
	if p.evaluateFn != nil {
		return p.evaluateFn(script, arg)
	}
	return nil, errUnsupported
}

func (p *fakePage) HumanizeInteraction(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.humanized++
	return ctx.Err()
}
