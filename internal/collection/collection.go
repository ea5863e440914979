package collection

import (
	"encoding/base64"
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"clinistore/internal/account"
	"clinistore/internal/atomicfs"
	"clinistore/internal/clock"
	"clinistore/internal/codec"
	"clinistore/internal/cryptox"
	"clinistore/internal/errs"
	"clinistore/internal/events"
	"clinistore/internal/indexcache"
)

// weakSecurityLevel is the fixed security-level parameter the Store
// uses for every filename encryption call site.
const weakSecurityLevel = 5

var ignoredEntryNames = map[string]bool{
	".DS_Store": true,
	"Thumbs.db": true,
}

const (
	fieldID         = "id"
	fieldRevisionID = "revisionId"
	fieldTimestamp  = "timestamp"
	fieldAuthor     = "author"

	fieldContextCollectionNames = "_contextCollectionNames"
	fieldContextIDs             = "_contextIds"
	fieldCollectionName         = "_collectionName"
)

// Collection is a handle to one model's objects at a fixed ancestor
// context, bound to a Session. Build it with Open.
type Collection struct {
	session    *account.Session
	model      *Model
	contextIDs []string
	dir        string // the directory holding this model's object directories
	cache      *indexcache.Cache
}

// WithCache returns a copy of c that consults cache to accelerate
// List(). The cache is strictly an accelerator: a cache miss or a
// stale entry always falls back to a real directory read, so it can
// never be the cause of a wrong answer, only a slow one.
func (c *Collection) WithCache(cache *indexcache.Cache) *Collection {
	next := *c
	next.cache = cache
	return &next
}

// Open resolves the physical directory for model at the given
// ancestor context (one id per entry of model.AncestorNames(), in the
// same order) and returns a Collection bound to it. Resolution walks
// the ancestor chain via successive list-then-match lookups — the
// recursive "_lookupObjDirById" the collection engine is built on.
func Open(session *account.Session, model *Model, contextIDs ...string) (*Collection, error) {
	if len(contextIDs) != model.Depth() {
		return nil, errs.New(errs.KindValidation, "wrong number of contextual ids for "+model.Name)
	}

	dir, err := resolveCollectionDir(session, model, contextIDs)
	if err != nil {
		return nil, err
	}
	return &Collection{session: session, model: model, contextIDs: contextIDs, dir: dir}, nil
}

func resolveCollectionDir(session *account.Session, model *Model, contextIDs []string) (string, error) {
	if model.Parent == nil {
		return filepath.Join(session.DataDir, model.CollectionName), nil
	}

	parentID := contextIDs[len(contextIDs)-1]
	parentDir, err := resolveCollectionDir(session, model.Parent, contextIDs[:len(contextIDs)-1])
	if err != nil {
		return "", err
	}

	parentObjDir, err := findObjDir(session, model.Parent, parentDir, parentID)
	if err != nil {
		return "", err
	}
	return filepath.Join(parentObjDir, model.CollectionName), nil
}

// Entry is one row of list(): the indexed field values and id of an
// object, plus the internal directory path read/createRevision use to
// avoid re-resolving it.
type Entry struct {
	ID      string
	Indexed map[string]any
	DirPath string
}

// List scans the collection directory and decodes every valid object
// directory name without decrypting any payload. This is the Store's
// sole indexed query path. When a cache is attached (see WithCache)
// and its recorded directory mtime still matches, the scan is skipped
// entirely.
func (c *Collection) List() ([]Entry, error) {
	if c.cache == nil {
		return listEntries(c.session, c.model, c.dir)
	}

	mtime, statErr := indexcache.DirMtime(c.dir)
	if statErr == nil {
		if rows, ok, err := c.cache.Lookup(c.dir, mtime); err == nil && ok {
			entries := make([]Entry, len(rows))
			for i, r := range rows {
				indexed := make(map[string]any, len(r.Indexed))
				for k, v := range r.Indexed {
					indexed[k] = v
				}
				entries[i] = Entry{ID: r.ID, Indexed: indexed, DirPath: r.DirPath}
			}
			return entries, nil
		}
	}

	entries, err := listEntries(c.session, c.model, c.dir)
	if err != nil {
		return nil, err
	}

	if statErr == nil {
		rows := make([]indexcache.Row, len(entries))
		for i, e := range entries {
			indexed := make(map[string]string, len(e.Indexed))
			for k, v := range e.Indexed {
				if s, ok := v.(string); ok {
					indexed[k] = s
				}
			}
			rows[i] = indexcache.Row{DirPath: e.DirPath, ID: e.ID, Indexed: indexed}
		}
		if err := c.cache.Store(c.dir, mtime, rows); err != nil {
			c.session.Log.Warn("failed to populate index cache", "dir", c.dir, "error", err)
		}
	}

	return entries, nil
}

func listEntries(session *account.Session, model *Model, dir string) ([]Entry, error) {
	osEntries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, errs.IO("listing collection directory", err)
	}

	indexFields := model.IndexedFields()
	var out []Entry
	for _, e := range osEntries {
		if !e.IsDir() || ignoredEntryNames[e.Name()] {
			continue
		}

		components, err := decodeWeakName(session, e.Name(), len(indexFields)+1)
		if err != nil {
			session.Log.Warn("skipping undecodable object directory", "dir", dir, "name", e.Name(), "error", err)
			continue
		}

		entry := Entry{
			Indexed: make(map[string]any, len(indexFields)),
			DirPath: filepath.Join(dir, e.Name()),
		}
		for i, f := range indexFields {
			entry.Indexed[f.Name] = string(components[i])
		}
		entry.ID = base64.RawURLEncoding.EncodeToString(components[len(components)-1])
		out = append(out, entry)
	}
	return out, nil
}

func findObjDir(session *account.Session, model *Model, dir, id string) (string, error) {
	entries, err := listEntries(session, model, dir)
	if err != nil {
		return "", err
	}
	for _, e := range entries {
		if e.ID == id {
			return e.DirPath, nil
		}
	}
	return "", errs.ObjectNotFound("no " + model.Name + " with id " + id)
}

func decodeWeakName(session *account.Session, name string, count int) ([][]byte, error) {
	raw, err := base64.RawURLEncoding.DecodeString(name)
	if err != nil {
		return nil, err
	}
	plain, err := cryptox.WeakDecrypt(session.StrongKey(), weakSecurityLevel, raw)
	if err != nil {
		return nil, err
	}
	return codec.Decode(plain, count)
}

func encodeWeakName(session *account.Session, components [][]byte) (string, error) {
	plain := codec.Encode(components)
	ct, err := cryptox.WeakEncrypt(session.StrongKey(), weakSecurityLevel, plain)
	if err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(ct), nil
}

// Create validates obj, stamps it with metadata and this Collection's
// ancestor context, and atomically creates its object directory.
func (c *Collection) Create(obj map[string]any) (map[string]any, error) {
	if err := rejectMetadataFields(obj, c.model); err != nil {
		return nil, err
	}

	id := c.session.IDs.New()
	revisionID := c.session.IDs.New()
	timestamp := clock.FormatTimestamp(c.session.Clock.Now())

	stamped := cloneMap(obj)
	stamped[fieldID] = id
	stamped[fieldRevisionID] = revisionID
	stamped[fieldTimestamp] = timestamp
	stamped[fieldAuthor] = c.session.UserName
	for i, ancestorName := range c.model.AncestorNames() {
		stamped[ancestorName+"Id"] = c.contextIDs[i]
	}

	if err := c.model.Schema().Validate(stamped); err != nil {
		return nil, err
	}

	dirName, err := c.objDirName(stamped, id)
	if err != nil {
		return nil, err
	}

	commit, err := atomicfs.WriteDirectory(filepath.Join(c.dir, dirName), c.tmpRoot())
	if err != nil {
		return nil, err
	}

	for childCollectionName := range c.model.Children {
		if err := os.Mkdir(filepath.Join(commit.TmpPath(), childCollectionName), 0o700); err != nil {
			commit.Abort()
			return nil, errs.IO("creating child collection directory", err)
		}
	}

	if err := c.writeRevisionFile(commit.TmpPath(), stamped, id, timestamp, revisionID); err != nil {
		commit.Abort()
		return nil, err
	}

	if err := commit.Commit(); err != nil {
		return nil, err
	}

	c.session.Bus.Publish(events.Event{Name: "create:" + c.model.Name, Payload: stamped})
	return stamped, nil
}

func (c *Collection) tmpRoot() string {
	return filepath.Join(c.session.TmpRoot)
}

func (c *Collection) objDirName(obj map[string]any, id string) (string, error) {
	idRaw, err := base64.RawURLEncoding.DecodeString(id)
	if err != nil {
		return "", errs.IO("decoding id", err)
	}

	components := make([][]byte, 0, len(c.model.IndexedFields())+1)
	for _, f := range c.model.IndexedFields() {
		v, _ := lookupDotted(obj, f.Name).(string)
		components = append(components, []byte(v))
	}
	components = append(components, idRaw)

	return encodeWeakName(c.session, components)
}

func (c *Collection) revFileName(timestamp, revisionID string) (string, error) {
	revRaw, err := base64.RawURLEncoding.DecodeString(revisionID)
	if err != nil {
		return "", errs.IO("decoding revisionId", err)
	}
	return encodeWeakName(c.session, [][]byte{[]byte(timestamp), revRaw})
}

func (c *Collection) writeRevisionFile(objDir string, obj map[string]any, id, timestamp, revisionID string) error {
	payload := cloneMap(obj)
	payload[fieldContextCollectionNames] = c.model.AncestorCollectionNames()
	payload[fieldContextIDs] = c.contextIDs
	payload[fieldCollectionName] = c.model.CollectionName

	data, err := json.Marshal(payload)
	if err != nil {
		return errs.Wrap(errs.KindValidation, "marshaling revision payload", err)
	}

	ciphertext, err := cryptox.StrongEncrypt(c.session.StrongKey(), data)
	if err != nil {
		return err
	}

	fileName, err := c.revFileName(timestamp, revisionID)
	if err != nil {
		return err
	}

	return atomicfs.WriteBufferToFile(filepath.Join(objDir, fileName), c.tmpRoot(), ciphertext)
}

// CreateRevision appends a new revision to an existing mutable object,
// renaming its directory if the update changed an indexed field.
func (c *Collection) CreateRevision(obj map[string]any) (map[string]any, error) {
	if !c.model.Mutable {
		return nil, errs.New(errs.KindValidation, c.model.Name+" is immutable")
	}

	id, _ := obj[fieldID].(string)
	if id == "" {
		return nil, errs.New(errs.KindValidation, "createRevision requires obj.id")
	}

	objDir, err := findObjDir(c.session, c.model, c.dir, id)
	if err != nil {
		return nil, err
	}

	revisionID := c.session.IDs.New()
	timestamp := clock.FormatTimestamp(c.session.Clock.Now())

	stamped := cloneMap(obj)
	stamped[fieldID] = id
	stamped[fieldRevisionID] = revisionID
	stamped[fieldTimestamp] = timestamp
	stamped[fieldAuthor] = c.session.UserName
	for i, ancestorName := range c.model.AncestorNames() {
		stamped[ancestorName+"Id"] = c.contextIDs[i]
	}

	if err := c.model.Schema().Validate(stamped); err != nil {
		return nil, err
	}

	if err := c.writeRevisionFile(objDir, stamped, id, timestamp, revisionID); err != nil {
		return nil, err
	}

	newDirName, err := c.objDirName(stamped, id)
	if err != nil {
		return nil, err
	}
	newDirPath := filepath.Join(c.dir, newDirName)
	if newDirPath != objDir {
		if err := os.Rename(objDir, newDirPath); err != nil {
			return nil, errs.IO("renaming object directory after index change", err)
		}
	}

	c.session.Bus.Publish(events.Event{Name: "createRevision:" + c.model.Name, Payload: stamped})
	return stamped, nil
}

// RevisionMeta is one entry of ListRevisions: a revision's position in
// history without its decrypted payload.
type RevisionMeta struct {
	Timestamp  string
	RevisionID string
	FileName   string
}

// ListRevisions returns every revision of id, sorted ascending by
// timestamp, without decrypting any payload.
func (c *Collection) ListRevisions(id string) ([]RevisionMeta, error) {
	objDir, err := findObjDir(c.session, c.model, c.dir, id)
	if err != nil {
		return nil, err
	}
	return c.listRevisionsIn(objDir)
}

func (c *Collection) listRevisionsIn(objDir string) ([]RevisionMeta, error) {
	entries, err := os.ReadDir(objDir)
	if err != nil {
		return nil, errs.IO("listing object directory", err)
	}

	var revs []RevisionMeta
	for _, e := range entries {
		if e.IsDir() || ignoredEntryNames[e.Name()] {
			continue
		}
		components, err := decodeWeakName(c.session, e.Name(), 2)
		if err != nil {
			c.session.Log.Warn("skipping undecodable revision file", "dir", objDir, "name", e.Name(), "error", err)
			continue
		}
		revs = append(revs, RevisionMeta{
			Timestamp:  string(components[0]),
			RevisionID: base64.RawURLEncoding.EncodeToString(components[1]),
			FileName:   e.Name(),
		})
	}

	sort.Slice(revs, func(i, j int) bool { return revs[i].Timestamp < revs[j].Timestamp })
	return revs, nil
}

// Read returns the single revision of an immutable object, verifying
// tamper-detection and schema validity. Finding more than one revision
// file is fatal.
func (c *Collection) Read(id string) (map[string]any, error) {
	if c.model.Mutable {
		return nil, errs.New(errs.KindValidation, c.model.Name+" is mutable; use ReadLatestRevisions")
	}

	objDir, err := findObjDir(c.session, c.model, c.dir, id)
	if err != nil {
		return nil, err
	}

	revs, err := c.listRevisionsIn(objDir)
	if err != nil {
		return nil, err
	}
	if len(revs) != 1 {
		return nil, errs.Integrity("immutable object has " + strconv.Itoa(len(revs)) + " revisions, want 1")
	}

	return c.readRevisionFile(objDir, revs[0].FileName, id)
}

// ReadRevisions reads and validates every revision of id, ascending by
// timestamp.
func (c *Collection) ReadRevisions(id string) ([]map[string]any, error) {
	objDir, err := findObjDir(c.session, c.model, c.dir, id)
	if err != nil {
		return nil, err
	}
	revs, err := c.listRevisionsIn(objDir)
	if err != nil {
		return nil, err
	}

	out := make([]map[string]any, 0, len(revs))
	for _, r := range revs {
		obj, err := c.readRevisionFile(objDir, r.FileName, id)
		if err != nil {
			return nil, err
		}
		out = append(out, obj)
	}
	return out, nil
}

// ReadLatestRevisions resolves id's object directory unconditionally —
// even when k is 0 — then reads the last k revisions ascending by
// timestamp. k<=0 returns an empty slice without decrypting anything;
// this mirrors the source this engine is modeled on, which does not
// short-circuit the directory lookup for k=0 (see DESIGN.md).
func (c *Collection) ReadLatestRevisions(id string, k int) ([]map[string]any, error) {
	objDir, err := findObjDir(c.session, c.model, c.dir, id)
	if err != nil {
		return nil, err
	}
	if k <= 0 {
		return nil, nil
	}

	revs, err := c.listRevisionsIn(objDir)
	if err != nil {
		return nil, err
	}
	if k > len(revs) {
		k = len(revs)
	}
	latest := revs[len(revs)-k:]

	out := make([]map[string]any, 0, len(latest))
	for _, r := range latest {
		obj, err := c.readRevisionFile(objDir, r.FileName, id)
		if err != nil {
			return nil, err
		}
		out = append(out, obj)
	}
	return out, nil
}

func (c *Collection) readRevisionFile(objDir, fileName, expectedID string) (map[string]any, error) {
	ciphertext, err := os.ReadFile(filepath.Join(objDir, fileName))
	if err != nil {
		return nil, errs.IO("reading revision file", err)
	}

	plain, err := cryptox.StrongDecrypt(c.session.StrongKey(), ciphertext)
	if err != nil {
		return nil, err
	}

	var payload map[string]any
	if err := json.Unmarshal(plain, &payload); err != nil {
		return nil, errs.Wrap(errs.KindValidation, "parsing revision payload", err)
	}

	if err := c.verifyContext(payload, expectedID); err != nil {
		return nil, err
	}

	delete(payload, fieldContextCollectionNames)
	delete(payload, fieldContextIDs)
	delete(payload, fieldCollectionName)

	if err := c.model.Schema().Validate(payload); err != nil {
		return nil, err
	}
	return payload, nil
}

// verifyContext checks that the payload's embedded context matches
// the physical location it was found at.
func (c *Collection) verifyContext(payload map[string]any, expectedID string) error {
	gotID, _ := payload[fieldID].(string)
	if gotID != expectedID {
		return errs.Integrity("payload id does not match its directory")
	}

	gotCollName, _ := payload[fieldCollectionName].(string)
	if gotCollName != c.model.CollectionName {
		return errs.Integrity("payload _collectionName does not match its directory")
	}

	if !stringSliceEqual(anySliceToStrings(payload[fieldContextCollectionNames]), c.model.AncestorCollectionNames()) {
		return errs.Integrity("payload _contextCollectionNames does not match its directory")
	}
	if !stringSliceEqual(anySliceToStrings(payload[fieldContextIDs]), c.contextIDs) {
		return errs.Integrity("payload _contextIds does not match its directory")
	}
	return nil
}

func rejectMetadataFields(obj map[string]any, model *Model) error {
	reserved := []string{fieldID, fieldRevisionID, fieldTimestamp, fieldAuthor}
	for _, ancestorName := range model.AncestorNames() {
		reserved = append(reserved, ancestorName+"Id")
	}
	for _, key := range reserved {
		if _, exists := obj[key]; exists {
			return errs.New(errs.KindValidation, "obj must not already contain metadata field "+key)
		}
	}
	return nil
}

// lookupDotted resolves a field name like "clientName.first" by
// walking nested map[string]any values one path segment at a time. A
// plain, undotted name is just a single-segment path.
func lookupDotted(obj map[string]any, path string) any {
	cur := any(obj)
	for _, segment := range strings.Split(path, ".") {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil
		}
		cur = m[segment]
	}
	return cur
}

func cloneMap(m map[string]any) map[string]any {
	out := make(map[string]any, len(m)+8)
	for k, v := range m {
		out[k] = v
	}
	return out
}

func anySliceToStrings(v any) []string {
	switch vv := v.(type) {
	case []string:
		return vv
	case []any:
		out := make([]string, len(vv))
		for i, e := range vv {
			s, _ := e.(string)
			out[i] = s
		}
		return out
	default:
		return nil
	}
}

func stringSliceEqual(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
