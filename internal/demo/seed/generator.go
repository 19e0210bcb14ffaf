// Package seed fills a database with a small deterministic retail schema so
// questions have something to answer against.
package seed

import (
	"fmt"
	"math"
	"math/rand"
	"strings"
	"time"
)

type Customer struct {
	ID         int64
	Name       string
	Email      string
	Country    string
	SignedUpAt time.Time
}

type Product struct {
	ID       int64
	Name     string
	Category string
	Price    float64
}

type Order struct {
	ID         int64
	CustomerID int64
	ProductID  int64
	Quantity   int
	Amount     float64
	Status     string
	OrderedAt  time.Time
}

type Dataset struct {
	Customers []Customer
	Products  []Product
	Orders    []Order
}

type Generator struct {
	rnd *rand.Rand
	now func() time.Time
}

func NewGenerator(seed int64) *Generator {
	return &Generator{
		rnd: rand.New(rand.NewSource(seed)),
		now: func() time.Time { return time.Now().UTC() },
	}
}

var (
	firstNames = []string{"Ada", "Ben", "Clara", "David", "Elena", "Felix", "Greta", "Hugo", "Ines", "Jonas", "Klara", "Liam", "Mara", "Niko", "Olga", "Paul"}
	lastNames  = []string{"Fischer", "Garcia", "Huber", "Ivanov", "Jansen", "Kim", "Lopez", "Moreau", "Nagy", "Okafor", "Patel", "Quinn", "Rossi", "Silva", "Tanaka", "Weber"}
	countries  = []string{"US", "DE", "GB", "AT", "FR", "IN", "JP", "BR"}
	categories = []string{"electronics", "books", "kitchen", "outdoor", "toys"}
	adjectives = []string{"Compact", "Classic", "Deluxe", "Eco", "Pro", "Smart", "Travel", "Ultra"}
	nouns      = []string{"Blender", "Headphones", "Kettle", "Lamp", "Notebook", "Backpack", "Speaker", "Tent", "Mug", "Charger"}
	statuses   = []string{"completed", "completed", "completed", "shipped", "pending", "cancelled"}
)

// Generate produces the full dataset. Orders only reference customers and
// products that exist, and order dates fall after the customer signed up.
func (g *Generator) Generate(customers, products, orders int) Dataset {
	end := g.now().Truncate(time.Hour)
	start := end.AddDate(-1, 0, 0)

	dataset := Dataset{
		Customers: make([]Customer, 0, customers),
		Products:  make([]Product, 0, products),
		Orders:    make([]Order, 0, orders),
	}

	for i := 0; i < customers; i++ {
		id := int64(i + 1)
		first := pickOne(g.rnd, firstNames)
		last := pickOne(g.rnd, lastNames)
		dataset.Customers = append(dataset.Customers, Customer{
			ID:         id,
			Name:       first + " " + last,
			Email:      fmt.Sprintf("%s.%s.%d@example.com", strings.ToLower(first), strings.ToLower(last), id),
			Country:    pickOne(g.rnd, countries),
			SignedUpAt: randomTime(g.rnd, start, end.AddDate(0, -1, 0)),
		})
	}

	for i := 0; i < products; i++ {
		dataset.Products = append(dataset.Products, Product{
			ID:       int64(i + 1),
			Name:     pickOne(g.rnd, adjectives) + " " + pickOne(g.rnd, nouns),
			Category: pickOne(g.rnd, categories),
			Price:    round2(5 + g.rnd.Float64()*495),
		})
	}

	for i := 0; i < orders; i++ {
		customer := dataset.Customers[g.rnd.Intn(len(dataset.Customers))]
		product := dataset.Products[g.rnd.Intn(len(dataset.Products))]
		quantity := 1 + g.rnd.Intn(4)
		dataset.Orders = append(dataset.Orders, Order{
			ID:         int64(i + 1),
			CustomerID: customer.ID,
			ProductID:  product.ID,
			Quantity:   quantity,
			Amount:     round2(float64(quantity) * product.Price),
			Status:     pickOne(g.rnd, statuses),
			OrderedAt:  randomTime(g.rnd, customer.SignedUpAt, end),
		})
	}

	return dataset
}

func randomTime(r *rand.Rand, start, end time.Time) time.Time {
	if !end.After(start) {
		return start
	}
	window := end.Sub(start)
	return start.Add(time.Duration(r.Int63n(int64(window)))).Truncate(time.Second)
}

func round2(value float64) float64 {
	return math.Round(value*100) / 100
}

func pickOne(r *rand.Rand, values []string) string {
	return values[r.Intn(len(values))]
}
