package sdb_test

import (
	"fmt"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	bolt "go.etcd.io/bbolt"

	"github.com/sdbio/sdb/bson"
	"github.com/sdbio/sdb/collection"
	"github.com/sdbio/sdb/idgen"
	"github.com/sdbio/sdb/predicate"
	"github.com/sdbio/sdb/sdb"
	"github.com/sdbio/sdb/sdbcfg"
)

func testConfig() sdbcfg.Config {
	cfg := sdbcfg.Defaults()
	cfg.CacheSize = 256
	return cfg
}

func openEngine(t *testing.T, path string, cfg sdbcfg.Config) *sdb.Engine {
	t.Helper()
	eng, err := sdb.Open(path, sdb.Options{Config: cfg})
	require.NoError(t, err)
	return eng
}

func userDoc(id, name string, age int32) *bson.Document {
	d := bson.NewDocument()
	d.Set("_id", bson.String(id))
	d.Set("name", bson.String(name))
	d.Set("age", bson.Int32(age))
	return d
}

// Scenario 1: insert + find by id.
func TestInsertAndFindByID(t *testing.T) {
	path := filepath.Join(t.TempDir(), "db.sdb")
	eng := openEngine(t, path, testConfig())
	defer eng.Close()

	users, err := eng.GetCollectionWithIDType("users", idgen.String)
	require.NoError(t, err)

	txn, err := eng.BeginTransaction()
	require.NoError(t, err)
	_, err = users.Insert(txn, userDoc("u1", "Alice", 30))
	require.NoError(t, err)
	require.NoError(t, eng.Commit(txn))

	got, ok, err := users.FindByID(bson.String("u1"))
	require.NoError(t, err)
	require.True(t, ok)
	require.True(t, got.Equal(userDoc("u1", "Alice", 30)))

	n, err := users.Count(nil)
	require.NoError(t, err)
	require.Equal(t, 1, n)
}

// Scenario 2: unique index rejection.
func TestUniqueIndexRejection(t *testing.T) {
	path := filepath.Join(t.TempDir(), "db.sdb")
	eng := openEngine(t, path, testConfig())
	defer eng.Close()

	accounts, err := eng.GetCollection("accounts")
	require.NoError(t, err)
	require.NoError(t, accounts.CreateIndex(collection.IndexDef{
		Name: "by_email", Fields: []string{"email"}, Unique: true,
	}))

	mk := func(id int32, email string) *bson.Document {
		d := bson.NewDocument()
		d.Set("_id", bson.Int32(id))
		d.Set("email", bson.String(email))
		return d
	}

	txn, err := eng.BeginTransaction()
	require.NoError(t, err)
	_, err = accounts.Insert(txn, mk(1, "a@x"))
	require.NoError(t, err)
	require.NoError(t, eng.Commit(txn))

	txn2, err := eng.BeginTransaction()
	require.NoError(t, err)
	_, err = accounts.Insert(txn2, mk(2, "a@x"))
	require.Error(t, err)
	require.True(t, sdb.Is(err, sdb.CodeDuplicateKey))
	require.NoError(t, eng.Rollback(txn2))

	n, err := accounts.Count(nil)
	require.NoError(t, err)
	require.Equal(t, 1, n)
}

// Scenario 3: rollback on dispose.
func TestRollbackOnDispose(t *testing.T) {
	path := filepath.Join(t.TempDir(), "db.sdb")
	eng := openEngine(t, path, testConfig())
	defer eng.Close()

	items, err := eng.GetCollection("items")
	require.NoError(t, err)

	txn, err := eng.BeginTransaction()
	require.NoError(t, err)
	_, err = items.Insert(txn, bson.NewDocument().Set("_id", bson.Int32(1)))
	require.NoError(t, err)
	_, err = items.Insert(txn, bson.NewDocument().Set("_id", bson.Int32(2)))
	require.NoError(t, err)

	require.NoError(t, eng.Dispose(txn))

	n, err := items.Count(nil)
	require.NoError(t, err)
	require.Equal(t, 0, n)
}

// Scenario 4: savepoint revert.
func TestSavepointRevert(t *testing.T) {
	path := filepath.Join(t.TempDir(), "db.sdb")
	eng := openEngine(t, path, testConfig())
	defer eng.Close()

	letters, err := eng.GetCollection("letters")
	require.NoError(t, err)

	mk := func(s string) *bson.Document { return bson.NewDocument().Set("_id", bson.String(s)) }

	txn, err := eng.BeginTransaction()
	require.NoError(t, err)
	_, err = letters.Insert(txn, mk("A"))
	require.NoError(t, err)
	require.NoError(t, txn.CreateSavepoint("sp"))
	_, err = letters.Insert(txn, mk("B"))
	require.NoError(t, err)
	_, err = letters.Insert(txn, mk("C"))
	require.NoError(t, err)

	require.NoError(t, txn.RollbackToSavepoint("sp"))
	require.NoError(t, eng.Commit(txn))

	docs, err := letters.FindAll()
	require.NoError(t, err)
	require.Len(t, docs, 1)
	require.Equal(t, "A", mustGetString(t, docs[0], "_id"))
}

func mustGetString(t *testing.T, d *bson.Document, field string) string {
	t.Helper()
	v, ok := d.Get(field)
	require.True(t, ok)
	s, ok := v.AsString()
	require.True(t, ok)
	return s
}

// Scenario 5: crash recovery after commit, cross-checked against an
// independent bbolt-backed shadow model of the same inserts.
func TestCrashRecoveryAfterCommit(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "db.sdb")
	shadowPath := filepath.Join(dir, "shadow.bolt")

	shadow, err := bolt.Open(shadowPath, 0o600, nil)
	require.NoError(t, err)
	defer shadow.Close()

	cfg := testConfig()
	cfg.WriteConcern = sdbcfg.Synced

	eng := openEngine(t, path, cfg)

	records, err := eng.GetCollection("records")
	require.NoError(t, err)
	require.NoError(t, records.CreateIndex(collection.IndexDef{
		Name: "by_seq", Fields: []string{"seq"},
	}))

	txn, err := eng.BeginTransaction()
	require.NoError(t, err)

	const total = 100
	require.NoError(t, shadow.Update(func(tx *bolt.Tx) error {
		b, err := tx.CreateBucketIfNotExists([]byte("records"))
		if err != nil {
			return err
		}
		for i := 0; i < total; i++ {
			id := fmt.Sprintf("r%03d", i)
			d := bson.NewDocument()
			d.Set("_id", bson.String(id))
			d.Set("seq", bson.Int32(int32(i)))
			if _, err := records.Insert(txn, d); err != nil {
				return err
			}
			if err := b.Put([]byte(id), []byte(fmt.Sprintf("%d", i))); err != nil {
				return err
			}
		}
		return nil
	}))
	require.NoError(t, eng.Commit(txn))

	// Close the engine and reopen the same file with a fresh handle;
	// Open runs journal recovery over whatever the journal holds, and
	// every committed document must still be there.
	require.NoError(t, eng.Close())
	eng2 := openEngine(t, path, cfg)
	defer eng2.Close()

	records2, err := eng2.GetCollection("records")
	require.NoError(t, err)

	docs, err := records2.FindAll()
	require.NoError(t, err)
	require.Len(t, docs, total)

	n, err := records2.Count(predicate.Ge("seq", bson.Int32(0)))
	require.NoError(t, err)
	require.Equal(t, total, n)

	require.NoError(t, shadow.View(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte("records"))
		for i := 0; i < total; i++ {
			id := fmt.Sprintf("r%03d", i)
			require.NotNil(t, b.Get([]byte(id)), "shadow missing %s", id)
			doc, ok, err := records2.FindByID(bson.String(id))
			require.NoError(t, err)
			require.True(t, ok, "engine missing %s present in shadow", id)
			require.Equal(t, int32(i), mustGetInt32(t, doc, "seq"))
		}
		return nil
	}))

	// Recovery is idempotent: reopening a second time over an
	// already-recovered file must not change the document count.
	require.NoError(t, eng2.Close())
	eng3 := openEngine(t, path, cfg)
	defer eng3.Close()
	records3, err := eng3.GetCollection("records")
	require.NoError(t, err)
	docs3, err := records3.FindAll()
	require.NoError(t, err)
	require.Len(t, docs3, total)
}

func mustGetInt32(t *testing.T, d *bson.Document, field string) int32 {
	t.Helper()
	v, ok := d.Get(field)
	require.True(t, ok)
	n, ok := v.AsInt32()
	require.True(t, ok)
	return n
}

// Scenario 6: update grows a document past its original page's slack,
// forcing relocation; the vacated page returns to the free list.
func TestUpdateGrowsDocumentRelocates(t *testing.T) {
	path := filepath.Join(t.TempDir(), "db.sdb")
	cfg := testConfig()
	cfg.PageSize = 4096
	eng := openEngine(t, path, cfg)
	defer eng.Close()

	blobs, err := eng.GetCollection("blobs")
	require.NoError(t, err)

	small := bson.NewDocument()
	small.Set("_id", bson.Int32(1))
	small.Set("body", bson.String("short"))

	txn, err := eng.BeginTransaction()
	require.NoError(t, err)
	_, err = blobs.Insert(txn, small)
	require.NoError(t, err)
	require.NoError(t, eng.Commit(txn))

	before := eng.Statistics()

	large := bson.NewDocument()
	large.Set("_id", bson.Int32(1))
	large.Set("body", bson.String(bigPayload()))

	txn2, err := eng.BeginTransaction()
	require.NoError(t, err)
	require.NoError(t, blobs.Update(txn2, large))
	require.NoError(t, eng.Commit(txn2))

	after := eng.Statistics()
	require.Equal(t, after.UsedPages+uint32(after.FreeListLength), after.TotalPages)
	require.GreaterOrEqual(t, after.FreeListLength, before.FreeListLength)

	got, ok, err := blobs.FindByID(bson.Int32(1))
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, bigPayload(), mustGetString(t, got, "body"))
}

func bigPayload() string {
	buf := make([]byte, 3000)
	for i := range buf {
		buf[i] = byte('a' + i%26)
	}
	return string(buf)
}
