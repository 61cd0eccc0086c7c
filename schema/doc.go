// Package schema loads JSON schema documents and resolves the $ref pointers
// inside them.
//
// References take the form "<file>#<fragment>". The file part is searched for
// in an ordered list of directories; the first regular file found wins. A
// file that is on no search path is read as a literal path relative to the
// working directory. The fragment is a "/"-separated path of mapping keys and
// sequence indices. An empty file part points into the document being
// resolved.
//
// Resolution is substitutional: a mapping holding $ref is replaced by the
// target value, and any sibling keys are discarded.
//
// Referenced files are resolved once and stored in a Cache keyed by absolute
// path. The Cache is an explicit value so that tests and independent runtimes
// can each own one:
//
//	cache := schema.NewCache()
//	provider := schema.NewProvider(cache, "schemas/shared")
//	doc, err := provider.Load("schemas", "objectstore/user-config.json")
//	if err != nil {
//	    return err
//	}
//	err = schema.Validate(userConfig, doc)
//
// Unresolvable references return errors matching errors.ErrSchemaReference.
// Missing top-level schema files return errors.ErrSchemaNotFound.
package schema
