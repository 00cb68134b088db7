package devapi

import (
	"sort"
	"sync"
)

type Product struct {
	ID    string  `json:"id"`
	Name  string  `json:"name"`
	Price float64 `json:"price"`
	Stock int     `json:"stock"`
}

type Order struct {
	ID       string  `json:"id"`
	Customer string  `json:"customer"`
	Total    float64 `json:"total"`
	Status   string  `json:"status"`
}

// Catalog is the sample data behind the development API's data routes.
type Catalog struct {
	mu       sync.RWMutex
	products map[string]Product
	orders   map[string]Order
}

func NewCatalog() *Catalog {
	c := &Catalog{products: make(map[string]Product), orders: make(map[string]Order)}
	for _, p := range []Product{
		{ID: "p-1001", Name: "Canvas Tote", Price: 24.00, Stock: 130},
		{ID: "p-1002", Name: "Enamel Mug", Price: 14.50, Stock: 42},
		{ID: "p-1003", Name: "Linen Apron", Price: 38.00, Stock: 0},
	} {
		c.products[p.ID] = p
	}
	for _, o := range []Order{
		{ID: "o-5001", Customer: "usr-customer", Total: 38.50, Status: "paid"},
		{ID: "o-5002", Customer: "usr-customer", Total: 24.00, Status: "shipped"},
	} {
		c.orders[o.ID] = o
	}
	return c
}

func (c *Catalog) Products() []Product {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]Product, 0, len(c.products))
	for _, p := range c.products {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (c *Catalog) Product(id string) (Product, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	p, ok := c.products[id]
	return p, ok
}

func (c *Catalog) DeleteProduct(id string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.products[id]; !ok {
		return false
	}
	delete(c.products, id)
	return true
}

func (c *Catalog) Orders() []Order {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]Order, 0, len(c.orders))
	for _, o := range c.orders {
		out = append(out, o)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (c *Catalog) SetOrderStatus(id, status string) (Order, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	o, ok := c.orders[id]
	if !ok {
		return Order{}, false
	}
	o.Status = status
	c.orders[id] = o
	return o, true
}
