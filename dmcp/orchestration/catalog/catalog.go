package catalog

import (
	"fmt"
	"sync"

	"github.com/go-playground/validator/v10"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// Catalog holds tool descriptors in registration order. It is built once at
// startup and read concurrently afterwards.
type Catalog struct {
	mu    sync.RWMutex
	tools map[string]*entry
	order []string
}

type entry struct {
	desc   ToolDescriptor
	schema []byte // rendered input JSON schema
}

// New creates an empty catalog.
func New() *Catalog {
	return &Catalog{tools: make(map[string]*entry)}
}

// Register validates and stores a copy of desc.
func (c *Catalog) Register(desc ToolDescriptor) error {
	if err := validate.Struct(desc); err != nil {
		return &InvalidDescriptorError{Name: desc.Name, Err: err}
	}
	if desc.Tool.Name() != desc.Name {
		return &InvalidDescriptorError{
			Name: desc.Name,
			Err:  fmt.Errorf("implementation is named %q", desc.Tool.Name()),
		}
	}

	stored := desc.clone()
	schema, err := renderSchema(stored)
	if err != nil {
		return &InvalidDescriptorError{Name: desc.Name, Err: err}
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.tools[desc.Name]; exists {
		return &DuplicateToolError{Name: desc.Name}
	}
	c.tools[desc.Name] = &entry{desc: stored, schema: schema}
	c.order = append(c.order, desc.Name)
	return nil
}

// MustRegister registers every descriptor and panics on the first error.
func (c *Catalog) MustRegister(descs ...ToolDescriptor) {
	for _, d := range descs {
		if err := c.Register(d); err != nil {
			panic(err)
		}
	}
}

// Lookup returns a copy of the named descriptor.
func (c *Catalog) Lookup(name string) (ToolDescriptor, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	e, ok := c.tools[name]
	if !ok {
		return ToolDescriptor{}, &UnknownToolError{Name: name}
	}
	return e.desc.clone(), nil
}

// Has reports whether name is registered.
func (c *Catalog) Has(name string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.tools[name]
	return ok
}

// List returns every descriptor in registration order.
func (c *Catalog) List() []ToolDescriptor {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]ToolDescriptor, 0, len(c.order))
	for _, name := range c.order {
		out = append(out, c.tools[name].desc.clone())
	}
	return out
}

// ByTags returns the descriptors carrying any of tags, in registration order.
func (c *Catalog) ByTags(tags ...string) []ToolDescriptor {
	var out []ToolDescriptor
	for _, d := range c.List() {
		for _, tag := range tags {
			if d.HasTag(tag) {
				out = append(out, d)
				break
			}
		}
	}
	return out
}

// Len returns the number of registered tools.
func (c *Catalog) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.order)
}
