// Package pocket is an embedded object-graph store backed by plain files.
//
// Register your struct types, add object graphs, and store them. Every type
// is written as a JSON array to its own file; pointers between registered
// types become references, so shared and cyclic graphs come back intact on
// load. Binary payloads go through Blob values and are packed into numbered
// zip containers next to the JSON files.
//
// Usage:
//
//	p, err := pocket.Open("./data", pocket.WithLogger(logger))
//	if err != nil { ... }
//	defer p.Close()
//
//	p.Register(&Address{})
//	p.Register(&Person{})
//
//	if p.Exists() {
//		err = p.Load(ctx)
//	}
//	err = p.Add(&Person{Name: "Ada", Address: &Address{City: "London"}})
//	err = p.Store(ctx)
//
//	people, err := pocket.FindAll[Person](p)
//
// A pocket refuses to add, store or find before stored data has been loaded,
// so unseen data is never overwritten.
package pocket
