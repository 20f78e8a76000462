package pocket

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aretw0/pocket/pkg/adapters/blob"
	"github.com/aretw0/pocket/pkg/adapters/fs"
	"github.com/aretw0/pocket/pkg/core"
	"github.com/aretw0/pocket/pkg/entity"
)

type address struct {
	City string `json:"city"`
}

type person struct {
	Name    string     `json:"name"`
	Address *address   `json:"address,omitempty"`
	Friends []*person  `json:"friends,omitempty"`
	Best    [2]*person `json:"best"`
	Avatar  *core.Blob `json:"avatar,omitempty"`
}

type node struct {
	Label string `json:"label"`
	Next  *node  `json:"next,omitempty"`
}

type account struct {
	Email string  `json:"email" pocket:"id"`
	Owner *person `json:"owner,omitempty"`
}

func newMemFs() afero.Fs {
	return afero.NewBasePathFs(afero.NewMemMapFs(), "/pocket")
}

// openPocket opens a pocket over fsys with the test types registered.
func openPocket(t *testing.T, fsys afero.Fs, configure ...func(*Config)) *Pocket {
	t.Helper()

	objects, err := fs.NewStore(fs.Config{Fs: fsys})
	require.NoError(t, err)
	blobs, err := blob.NewStore(blob.Config{Fs: fsys})
	require.NoError(t, err)

	reg := entity.NewRegistry(nil)
	require.NoError(t, reg.Register(&address{}, "Address"))
	require.NoError(t, reg.Register(&person{}, "Person"))
	require.NoError(t, reg.Register(&node{}, "Node"))
	require.NoError(t, reg.Register(&account{}, "Account"))

	cfg := Config{Registry: reg, Objects: objects, Blobs: blobs, Pretty: true}
	for _, fn := range configure {
		fn(&cfg)
	}
	p, err := New(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { p.Close() })
	return p
}

func loaded(t *testing.T, fsys afero.Fs) *Pocket {
	t.Helper()
	p := openPocket(t, fsys)
	require.NoError(t, p.Load(context.Background()))
	return p
}

func findAll[T any](t *testing.T, p *Pocket) []*T {
	t.Helper()
	objs, err := p.FindAll(new(T))
	require.NoError(t, err)
	out := make([]*T, len(objs))
	for i, o := range objs {
		out[i] = o.(*T)
	}
	return out
}

func readFile(t *testing.T, fsys afero.Fs, name string) string {
	t.Helper()
	data, err := afero.ReadFile(fsys, name)
	require.NoError(t, err)
	return string(data)
}

func TestPocket_RoundTrip(t *testing.T) {
	ctx := context.Background()
	fsys := newMemFs()

	p := openPocket(t, fsys)
	require.NoError(t, p.Add(&person{Name: "A", Address: &address{City: "X"}}))
	require.NoError(t, p.Store(ctx))
	assert.Equal(t, core.StateReady, p.Status())

	p2 := loaded(t, fsys)
	people := findAll[person](t, p2)
	addresses := findAll[address](t, p2)
	require.Len(t, people, 1)
	require.Len(t, addresses, 1)
	assert.Same(t, addresses[0], people[0].Address)
	assert.Equal(t, "X", people[0].Address.City)

	people[0].Address.City = "Y"
	require.NoError(t, p2.Store(ctx))

	p3 := loaded(t, fsys)
	people = findAll[person](t, p3)
	addresses = findAll[address](t, p3)
	require.Len(t, people, 1)
	require.Len(t, addresses, 1)
	assert.Equal(t, "Y", people[0].Address.City)
}

func TestPocket_SharedReference(t *testing.T) {
	ctx := context.Background()
	fsys := newMemFs()

	home := &address{City: "Lisbon"}
	p := openPocket(t, fsys)
	require.NoError(t, p.Add(&person{Name: "Ann", Address: home}))
	require.NoError(t, p.Add(&person{Name: "Bob", Address: home}))
	require.NoError(t, p.Store(ctx))

	// One full body, two tokens.
	assert.Equal(t, 1, strings.Count(readFile(t, fsys, "Address.json"), `"op_class": "Address"`))
	assert.Equal(t, 2, strings.Count(readFile(t, fsys, "Person.json"), `@Address"`))

	p2 := loaded(t, fsys)
	people := findAll[person](t, p2)
	require.Len(t, people, 2)
	require.Len(t, findAll[address](t, p2), 1)
	assert.Same(t, people[0].Address, people[1].Address)
}

func TestPocket_Cycle(t *testing.T) {
	ctx := context.Background()
	fsys := newMemFs()

	a := &node{Label: "a"}
	b := &node{Label: "b", Next: a}
	a.Next = b

	p := openPocket(t, fsys)
	require.NoError(t, p.Add(a))
	require.NoError(t, p.Store(ctx))
	id, ok := p.IDOf(a)
	require.True(t, ok)

	p2 := loaded(t, fsys)
	obj, err := p2.Find(id, &node{})
	require.NoError(t, err)
	la := obj.(*node)
	assert.Equal(t, "a", la.Label)
	require.NotNil(t, la.Next)
	assert.Equal(t, "b", la.Next.Label)
	assert.Same(t, la, la.Next.Next)
}

func TestPocket_Collections(t *testing.T) {
	ctx := context.Background()
	fsys := newMemFs()

	ann := &person{Name: "Ann"}
	bob := &person{Name: "Bob"}
	cid := &person{Name: "Cid", Friends: []*person{ann, nil, bob}}
	cid.Best[1] = ann

	p := openPocket(t, fsys)
	require.NoError(t, p.Add(cid))
	require.NoError(t, p.Store(ctx))
	cidID, _ := p.IDOf(cid)

	p2 := loaded(t, fsys)
	require.Len(t, findAll[person](t, p2), 3)

	obj, err := p2.Find(cidID, &person{})
	require.NoError(t, err)
	got := obj.(*person)
	require.Len(t, got.Friends, 3)
	assert.Equal(t, "Ann", got.Friends[0].Name)
	assert.Nil(t, got.Friends[1])
	assert.Equal(t, "Bob", got.Friends[2].Name)
	assert.Nil(t, got.Best[0])
	assert.Same(t, got.Friends[0], got.Best[1])
}

func TestPocket_IdentifierStability(t *testing.T) {
	ctx := context.Background()
	fsys := newMemFs()

	p := openPocket(t, fsys)
	require.NoError(t, p.Add(&person{Name: "Ann", Address: &address{City: "X"}}))
	require.NoError(t, p.Add(&node{Label: "n"}))
	require.NoError(t, p.Store(ctx))

	idsByName := func(p *Pocket) map[string]string {
		ids := make(map[string]string)
		for _, o := range findAll[person](t, p) {
			ids["person/"+o.Name], _ = p.IDOf(o)
		}
		for _, o := range findAll[address](t, p) {
			ids["address/"+o.City], _ = p.IDOf(o)
		}
		for _, o := range findAll[node](t, p) {
			ids["node/"+o.Label], _ = p.IDOf(o)
		}
		return ids
	}

	p2 := loaded(t, fsys)
	first := idsByName(p2)
	require.Len(t, first, 3)
	require.NoError(t, p2.Store(ctx))

	p3 := loaded(t, fsys)
	assert.Equal(t, first, idsByName(p3))
}

func TestPocket_CustomIdentifier(t *testing.T) {
	ctx := context.Background()
	fsys := newMemFs()

	acc := &account{Email: "ada@example.com"}
	p := openPocket(t, fsys)
	require.NoError(t, p.Add(acc))
	require.NoError(t, p.Store(ctx))
	assert.Contains(t, readFile(t, fsys, "Account.json"), `"op_id": "op_ref:email"`)

	acc.Email = "ada@example.org"
	require.NoError(t, p.Store(ctx))
	id, _ := p.IDOf(acc)
	assert.Equal(t, "ada@example.org", id)

	p2 := loaded(t, fsys)
	obj, err := p2.Find("ada@example.org", &account{})
	require.NoError(t, err)
	assert.Equal(t, "ada@example.org", obj.(*account).Email)

	_, err = p2.Find("ada@example.com", &account{})
	assert.ErrorIs(t, err, core.ErrNotFound)
}

func TestPocket_DuplicateIdentifier(t *testing.T) {
	ctx := context.Background()
	fsys := newMemFs()

	p := openPocket(t, fsys)
	require.NoError(t, p.Add(&account{Email: "same"}))
	require.NoError(t, p.Add(&account{Email: "same"}))

	err := p.Store(ctx)
	assert.ErrorIs(t, err, core.ErrDuplicateID)
	assert.False(t, p.Exists())
	assert.Equal(t, core.StateDirty, p.Status())
}

func TestPocket_FailedStoreForgetsDiscoveredObjects(t *testing.T) {
	ctx := context.Background()
	fsys := newMemFs()

	p := openPocket(t, fsys)
	first := &account{Email: "same"}
	require.NoError(t, p.Add(first))
	require.NoError(t, p.Store(ctx))

	second := &account{Email: "other"}
	require.NoError(t, p.Add(second))
	owner := &person{Name: "Ann"}
	first.Owner = owner
	second.Email = "same"

	err := p.Store(ctx)
	assert.ErrorIs(t, err, core.ErrDuplicateID)
	_, tracked := p.IDOf(owner)
	assert.False(t, tracked, "objects found by the failed store are not kept")
	_, tracked = p.IDOf(second)
	assert.True(t, tracked, "added objects stay tracked")

	second.Email = "fixed"
	require.NoError(t, p.Store(ctx))
	_, tracked = p.IDOf(owner)
	assert.True(t, tracked)
}

func TestPocket_CustomFilename(t *testing.T) {
	ctx := context.Background()
	fsys := newMemFs()

	p := openPocket(t, fsys)
	require.NoError(t, p.AddTo(&person{Name: "Ann"}, "custom"))
	require.NoError(t, p.Add(&person{Name: "Bob"}))
	require.NoError(t, p.Store(ctx))

	p2 := loaded(t, fsys)
	require.Len(t, findAll[person](t, p2), 2)
	require.NoError(t, p2.Store(ctx))

	custom := readFile(t, fsys, "custom.json")
	assert.Contains(t, custom, `"Ann"`)
	assert.NotContains(t, custom, `"Bob"`)
	assert.NotContains(t, readFile(t, fsys, "Person.json"), `"Ann"`)
}

func TestPocket_DefaultFilename(t *testing.T) {
	ctx := context.Background()
	fsys := newMemFs()

	p := openPocket(t, fsys)
	require.NoError(t, p.SetDefaultFilename(&address{}, "places"))
	require.NoError(t, p.Add(&person{Name: "Ann", Address: &address{City: "X"}}))
	require.NoError(t, p.Store(ctx))

	ok, err := afero.Exists(fsys, "places.json")
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = afero.Exists(fsys, "Address.json")
	require.NoError(t, err)
	assert.False(t, ok)

	p2 := loaded(t, fsys)
	assert.Len(t, findAll[address](t, p2), 1)
}

func TestPocket_FilenamesFromConfig(t *testing.T) {
	ctx := context.Background()
	fsys := newMemFs()

	p := openPocket(t, fsys, func(c *Config) {
		c.Filenames = map[string]string{"Node": "graph"}
	})
	require.NoError(t, p.Add(&node{Label: "n"}))
	require.NoError(t, p.Store(ctx))

	assert.Contains(t, readFile(t, fsys, "graph.json"), `"op_class": "Node"`)
}

func TestPocket_UnloadedGuard(t *testing.T) {
	ctx := context.Background()
	fsys := newMemFs()

	p := openPocket(t, fsys)
	require.NoError(t, p.Add(&node{Label: "n"}))
	require.NoError(t, p.Store(ctx))

	p2 := openPocket(t, fsys)
	assert.True(t, p2.Exists())
	assert.ErrorIs(t, p2.Add(&node{Label: "m"}), core.ErrInvalidState)
	assert.ErrorIs(t, p2.Store(ctx), core.ErrInvalidState)
	_, err := p2.FindAll(&node{})
	assert.ErrorIs(t, err, core.ErrInvalidState)
	_, err = p2.Find("x", &node{})
	assert.ErrorIs(t, err, core.ErrInvalidState)

	require.NoError(t, p2.Load(ctx))
	assert.NoError(t, p2.Add(&node{Label: "m"}))
}

func TestPocket_RemoveCascadesToBlobsOnly(t *testing.T) {
	fsys := newMemFs()

	home := &address{City: "X"}
	avatar := core.NewBlob("avatars/ann.png", []byte("png"))
	ann := &person{Name: "Ann", Address: home, Avatar: avatar}

	p := openPocket(t, fsys)
	require.NoError(t, p.Add(ann))
	require.NoError(t, p.Remove(ann))

	_, tracked := p.IDOf(ann)
	assert.False(t, tracked)
	_, tracked = p.IDOf(avatar)
	assert.False(t, tracked)
	_, tracked = p.IDOf(home)
	assert.True(t, tracked)

	assert.NoError(t, p.Remove(nil))
	assert.NoError(t, p.Remove(&node{}))
}

func TestPocket_Blobs(t *testing.T) {
	ctx := context.Background()
	fsys := newMemFs()

	ann := &person{Name: "Ann", Avatar: core.NewBlob("avatars/ann.png", []byte("ann-bytes"))}
	bob := &person{Name: "Bob", Avatar: core.NewBlob("", []byte("bob-bytes"))}
	p := openPocket(t, fsys)
	require.NoError(t, p.Add(ann))
	require.NoError(t, p.Add(bob))
	require.NoError(t, p.Store(ctx))
	assert.False(t, ann.Avatar.Dirty())

	p2 := loaded(t, fsys)
	people := findAll[person](t, p2)
	require.Len(t, people, 2)
	for _, o := range people {
		require.NotNil(t, o.Avatar)
		assert.False(t, o.Avatar.Loaded())
		data, err := o.Avatar.Bytes()
		require.NoError(t, err)
		assert.Equal(t, strings.ToLower(o.Name)+"-bytes", string(data))
	}

	// Drop Ann together with her avatar and reclaim the space.
	var loadedAnn *person
	for _, o := range people {
		if o.Name == "Ann" {
			loadedAnn = o
		}
	}
	require.NoError(t, p2.Remove(loadedAnn))
	require.NoError(t, p2.Store(ctx))
	require.NoError(t, p2.Cleanup(ctx))

	store, err := blob.NewStore(blob.Config{Fs: fsys})
	require.NoError(t, err)
	defer store.Close()
	paths, err := store.Paths("**")
	require.NoError(t, err)
	assert.Equal(t, []string{bob.Avatar.Key()}, paths)
}

func TestPocket_CleanupWithoutBlobsDeletesContainers(t *testing.T) {
	ctx := context.Background()
	fsys := newMemFs()

	ann := &person{Name: "Ann", Avatar: core.NewBlob("a", []byte("a"))}
	p := openPocket(t, fsys)
	require.NoError(t, p.Add(ann))
	require.NoError(t, p.Store(ctx))
	require.NoError(t, p.Remove(ann))
	require.NoError(t, p.Store(ctx))
	require.NoError(t, p.Cleanup(ctx))

	ok, err := afero.Exists(fsys, "binary.0")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestPocket_CleanupRequiresStore(t *testing.T) {
	ctx := context.Background()
	fsys := newMemFs()

	p := openPocket(t, fsys)
	require.NoError(t, p.Add(&person{Name: "Ann", Avatar: core.NewBlob("a", []byte("a"))}))
	require.NoError(t, p.Store(ctx))

	require.NoError(t, p.Add(&node{Label: "pending"}))
	err := p.Cleanup(ctx)
	assert.ErrorIs(t, err, core.ErrInvalidState)

	ok, err := afero.Exists(fsys, "binary.0")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestPocket_UnresolvedReference(t *testing.T) {
	ctx := context.Background()
	fsys := newMemFs()

	objects, err := fs.NewStore(fs.Config{Fs: fsys})
	require.NoError(t, err)
	member := `{"op_class":"Person","op_id":"p1","name":"Ann","address":{"op_ref":"gone@Address"}}`
	require.NoError(t, objects.Write(ctx, core.Bundles{
		"Person": {"Person": {[]byte(member)}},
	}))

	p := loaded(t, fsys)
	assert.Equal(t, []core.ProxyToken{{Type: "Address", ID: "gone"}}, p.Unresolved())

	obj, err := p.Find("p1", &person{})
	require.NoError(t, err)
	assert.NotNil(t, obj.(*person).Address, "placeholder is kept")
	assert.Empty(t, findAll[address](t, p))

	// The dangling reference survives another store.
	require.NoError(t, p.Add(&node{Label: "touch"}))
	require.NoError(t, p.Store(ctx))
	assert.Contains(t, readFile(t, fsys, "Person.json"), `"gone@Address"`)
	assert.NotContains(t, readFile(t, fsys, ".op_index"), `"Address"`)
}

func TestPocket_LoadUnregisteredType(t *testing.T) {
	ctx := context.Background()
	fsys := newMemFs()

	objects, err := fs.NewStore(fs.Config{Fs: fsys})
	require.NoError(t, err)
	require.NoError(t, objects.Write(ctx, core.Bundles{
		"Ghost": {"Ghost": {[]byte(`{"op_class":"Ghost","op_id":"g1"}`)}},
	}))

	p := openPocket(t, fsys)
	err = p.Load(ctx)
	require.Error(t, err)
	var pe *core.PersistenceError
	assert.ErrorAs(t, err, &pe)
	assert.ErrorIs(t, err, core.ErrUnknownType)
	assert.Equal(t, core.StateUnloaded, p.Status())
	assert.False(t, p.IsLoading())
}

func TestPocket_LoadAsync(t *testing.T) {
	ctx := context.Background()
	fsys := newMemFs()

	p := openPocket(t, fsys)
	for _, city := range []string{"X", "Y", "Z"} {
		require.NoError(t, p.Add(&person{Name: "at " + city, Address: &address{City: city}}))
	}
	require.NoError(t, p.Add(&node{Label: "n"}))
	require.NoError(t, p.Store(ctx))

	p2 := openPocket(t, fsys)
	require.NoError(t, p2.LoadAsync(ctx, &person{}))
	assert.Len(t, findAll[person](t, p2), 3)

	require.Eventually(t, func() bool { return !p2.IsLoading() }, 5*time.Second, 10*time.Millisecond)
	require.NoError(t, p2.LoadErr())
	assert.Equal(t, core.StateReady, p2.Status())

	addresses := findAll[address](t, p2)
	require.Len(t, addresses, 3)
	for _, o := range findAll[person](t, p2) {
		require.NotNil(t, o.Address)
		assert.Equal(t, "at "+o.Address.City, o.Name)
		assert.Contains(t, addresses, o.Address)
	}
	assert.Empty(t, p2.Unresolved())
	assert.Len(t, findAll[node](t, p2), 1)
}

func TestPocket_LoadAsyncUnknownPreload(t *testing.T) {
	p := openPocket(t, newMemFs())
	err := p.LoadAsync(context.Background(), &struct{ X int }{})
	assert.ErrorIs(t, err, core.ErrUnknownType)
	assert.False(t, p.IsLoading())
}

func TestPocket_Closed(t *testing.T) {
	p := openPocket(t, newMemFs())
	require.NoError(t, p.Close())
	require.NoError(t, p.Close())

	assert.ErrorIs(t, p.Add(&node{}), core.ErrClosed)
	assert.ErrorIs(t, p.Store(context.Background()), core.ErrClosed)
	assert.ErrorIs(t, p.Load(context.Background()), core.ErrClosed)
	assert.ErrorIs(t, p.Remove(&node{}), core.ErrClosed)
}

func TestPocket_Metrics(t *testing.T) {
	ctx := context.Background()
	fsys := newMemFs()

	m, err := NewMetrics(prometheus.NewRegistry())
	require.NoError(t, err)

	p := openPocket(t, fsys, func(c *Config) { c.Metrics = m })
	require.NoError(t, p.Add(&person{Name: "Ann", Avatar: core.NewBlob("a", []byte("abc"))}))
	require.NoError(t, p.Store(ctx))
	require.NoError(t, p.Load(ctx))

	assert.Equal(t, 1.0, testutil.ToFloat64(m.stores))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.loads))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.blobsWritten))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.blobBytes))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.tracked))
}

type recordingVersioner struct {
	messages []string
}

func (r *recordingVersioner) Snapshot(msg string) error {
	r.messages = append(r.messages, msg)
	return nil
}

func TestPocket_Versioner(t *testing.T) {
	v := &recordingVersioner{}
	p := openPocket(t, newMemFs(), func(c *Config) { c.Versioner = v })
	require.NoError(t, p.Add(&node{Label: "n"}))
	require.NoError(t, p.Store(context.Background()))

	require.Len(t, v.messages, 1)
	assert.Equal(t, "pocket: store 1 objects, 0 blobs", v.messages[0])
}

func TestPocket_State(t *testing.T) {
	p := openPocket(t, newMemFs())
	require.NoError(t, p.Add(&person{Name: "Ann", Address: &address{City: "X"}}))

	st, ok := p.State().(core.PocketState)
	require.True(t, ok)
	assert.Equal(t, "dirty", st.State)
	assert.Equal(t, 2, st.Tracked)
	assert.Equal(t, map[string]int{"Person": 1, "Address": 1}, st.Types)
	assert.Equal(t, "object-store", st.Objects)
	assert.Equal(t, "blob-store", st.Blobs)
	assert.Equal(t, "pocket", p.ComponentType())
}

func TestPocket_LiteralBlobsGetDistinctKeys(t *testing.T) {
	ctx := context.Background()
	fsys := newMemFs()

	alpha, beta := &core.Blob{}, &core.Blob{}
	alpha.SetBytes([]byte("alpha"))
	beta.SetBytes([]byte("beta"))

	p := openPocket(t, fsys)
	require.NoError(t, p.Add(&person{Name: "A", Avatar: alpha}))
	require.NoError(t, p.Add(&person{Name: "B", Avatar: beta}))
	require.NoError(t, p.Store(ctx))

	require.NotEmpty(t, alpha.ID)
	assert.NotEqual(t, alpha.Key(), beta.Key())
	id, _ := p.IDOf(alpha)
	assert.Equal(t, id, alpha.ID)

	p2 := loaded(t, fsys)
	for _, o := range findAll[person](t, p2) {
		require.NotNil(t, o.Avatar)
		data, err := o.Avatar.Bytes()
		require.NoError(t, err)
		want := map[string]string{"A": "alpha", "B": "beta"}[o.Name]
		assert.Equal(t, want, string(data), o.Name)
	}
}

func TestPocket_MovedBlob(t *testing.T) {
	ctx := context.Background()
	fsys := newMemFs()

	p := openPocket(t, fsys)
	require.NoError(t, p.Add(&person{Name: "Ann", Avatar: core.NewBlob("avatars/old.png", []byte("ann-bytes"))}))
	require.NoError(t, p.Store(ctx))

	p2 := loaded(t, fsys)
	ann := findAll[person](t, p2)[0]
	ann.Avatar.Path = "avatars/new.png"
	assert.True(t, ann.Avatar.Dirty())
	assert.ErrorIs(t, p2.Cleanup(ctx), core.ErrInvalidState, "the stored path is still the old one")
	require.NoError(t, p2.Store(ctx))
	require.NoError(t, p2.Cleanup(ctx))

	p3 := loaded(t, fsys)
	ann = findAll[person](t, p3)[0]
	data, err := ann.Avatar.Bytes()
	require.NoError(t, err)
	assert.Equal(t, "ann-bytes", string(data))

	store, err := blob.NewStore(blob.Config{Fs: fsys})
	require.NoError(t, err)
	defer store.Close()
	paths, err := store.Paths("**")
	require.NoError(t, err)
	assert.Equal(t, []string{"avatars/new.png"}, paths)
}
