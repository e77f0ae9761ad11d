package store

import (
	"fmt"

	"go.mongodb.org/mongo-driver/v2/bson"
)

// IDField is the key every stored document is identified by.
const IDField = "_id"

// Document is the storage representation of a record: field name to value.
type Document = bson.M

// Filter selects documents by field equality.
type Filter = bson.M

// IDString converts a stored identifier into its canonical string form.
func IDString(v any) string {
	switch id := v.(type) {
	case nil:
		return ""
	case bson.ObjectID:
		return id.Hex()
	case *bson.ObjectID:
		if id == nil {
			return ""
		}
		return id.Hex()
	case string:
		return id
	default:
		return fmt.Sprint(id)
	}
}

// ObjectID parses a canonical identifier back into the stored form.
func ObjectID(id string) (bson.ObjectID, bool) {
	oid, err := bson.ObjectIDFromHex(id)
	if err != nil {
		return bson.ObjectID{}, false
	}
	return oid, true
}

// ByID returns a filter matching the record with the given identifier.
func ByID(id string) Filter {
	return Filter{IDField: id}
}

// normalizeID rewrites the identifier of doc in place.
func normalizeID(doc Document) Document {
	if doc == nil {
		return nil
	}
	if v, ok := doc[IDField]; ok {
		doc[IDField] = IDString(v)
	}
	return doc
}

// storageFilter converts canonical string identifiers in f into ObjectIDs so
// callers never need the driver's identifier type.
func storageFilter(f Filter) Filter {
	if f == nil {
		return Filter{}
	}
	s, ok := f[IDField].(string)
	if !ok {
		return f
	}
	oid, ok := ObjectID(s)
	if !ok {
		return f
	}
	out := make(Filter, len(f))
	for k, v := range f {
		out[k] = v
	}
	out[IDField] = oid
	return out
}

// Encode converts a typed record into its storage representation.
func Encode(v any) (Document, error) {
	raw, err := bson.Marshal(v)
	if err != nil {
		return nil, NewError(KindUnexpected, "encode", "", fmt.Sprintf("encode %T: %v", v, err), err)
	}
	var doc Document
	if err := bson.Unmarshal(raw, &doc); err != nil {
		return nil, NewError(KindUnexpected, "encode", "", fmt.Sprintf("encode %T: %v", v, err), err)
	}
	return doc, nil
}

// Decode converts a normalized document into a typed record.
func Decode[T any](doc Document) (T, error) {
	var out T
	raw, err := bson.Marshal(doc)
	if err != nil {
		return out, NewError(KindUnexpected, "decode", "", fmt.Sprintf("decode %T: %v", out, err), err)
	}
	if err := bson.Unmarshal(raw, &out); err != nil {
		return out, NewError(KindUnexpected, "decode", "", fmt.Sprintf("decode %T: %v", out, err), err)
	}
	return out, nil
}

// DecodeAll decodes every document, stopping at the first failure.
func DecodeAll[T any](docs []Document) ([]T, error) {
	out := make([]T, 0, len(docs))
	for _, doc := range docs {
		v, err := Decode[T](doc)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

func decodeRaw(raw bson.Raw) (Document, error) {
	var doc Document
	if err := bson.Unmarshal(raw, &doc); err != nil {
		return nil, err
	}
	return normalizeID(doc), nil
}
