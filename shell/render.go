package shell

import (
	"bytes"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"

	"github.com/hadi77ir/go-mongosh/command"
	"github.com/hadi77ir/go-mongosh/executor"
)

// render prints the result of a one-shot command the way the shell reports
// each method
func (s *Session) render(cmd command.Command, res *command.Result) error {
	switch c := cmd.(type) {
	case command.Find:
		return s.printFirst(res)

	case command.Insert:
		if c.Many {
			return s.printValue(bson.D{
				{Key: "acknowledged", Value: true},
				{Key: "insertedIds", Value: bson.A(res.InsertedIDs)},
			})
		}
		var id interface{}
		if len(res.InsertedIDs) > 0 {
			id = res.InsertedIDs[0]
		}
		return s.printValue(bson.D{
			{Key: "acknowledged", Value: true},
			{Key: "insertedId", Value: id},
		})

	case command.Update:
		if c.Mode.ReturnsDocument() {
			return s.printFirst(res)
		}
		return s.printValue(bson.D{
			{Key: "acknowledged", Value: true},
			{Key: "insertedId", Value: res.UpsertedID},
			{Key: "matchedCount", Value: res.Matched},
			{Key: "modifiedCount", Value: res.Modified},
			{Key: "upsertedCount", Value: res.Upserted},
		})

	case command.Delete:
		if c.Mode == command.FindOneAndDelete {
			return s.printFirst(res)
		}
		return s.printValue(bson.D{
			{Key: "acknowledged", Value: true},
			{Key: "deletedCount", Value: res.Deleted},
		})

	case command.Count:
		_, err := fmt.Fprintln(s.out, res.Count)
		return err

	case command.Distinct:
		return s.printScalar(res.Reply.Lookup("values"))

	case command.CollStats:
		if c.Field != "" {
			_, err := fmt.Fprintln(s.out, res.Count)
			return err
		}

	case command.DropCollection:
		_, err := fmt.Fprintln(s.out, "true")
		return err

	case command.CreateIndex:
		names := make(bson.A, len(c.Indexes))
		for i, idx := range c.Indexes {
			names[i] = executor.IndexName(idx.Keys)
			if v, ok := idx.Options.Get("name"); ok {
				if name, ok := v.AsString(); ok {
					names[i] = name
				}
			}
		}
		if !c.Many && len(names) == 1 {
			return s.printScalar(names[0])
		}
		return s.printScalar(names)
	}

	if len(res.Documents) > 0 {
		for _, doc := range res.Documents {
			if err := s.printDocument(doc); err != nil {
				return err
			}
		}
		return nil
	}
	if res.Reply != nil {
		return s.printDocument(res.Reply)
	}
	return nil
}

func (s *Session) printFirst(res *command.Result) error {
	if doc := res.First(); doc != nil {
		return s.printDocument(doc)
	}
	_, err := fmt.Fprintln(s.out, "null")
	return err
}

func (s *Session) printDocument(doc bson.Raw) error {
	return s.printValue(doc)
}

// printValue prints a document as indented relaxed Extended JSON
func (s *Session) printValue(doc interface{}) error {
	out, err := bson.MarshalExtJSONIndent(doc, false, false, "", "  ")
	if err != nil {
		return command.NewExecutionError("format result", err)
	}
	_, err = fmt.Fprintf(s.out, "%s\n", out)
	return err
}

// printScalar prints a value that is not a document on one line
func (s *Session) printScalar(v interface{}) error {
	out, err := formatScalar(v)
	if err != nil {
		return command.NewExecutionError("format result", err)
	}
	_, err = fmt.Fprintf(s.out, "%s\n", out)
	return err
}

// formatScalar renders v as relaxed Extended JSON. Extended JSON only
// encodes documents at the top level, so v is wrapped and unwrapped.
func formatScalar(v interface{}) ([]byte, error) {
	out, err := bson.MarshalExtJSON(bson.D{{Key: "v", Value: v}}, false, false)
	if err != nil {
		return nil, err
	}
	out = bytes.TrimPrefix(out, []byte(`{"v":`))
	return bytes.TrimSuffix(out, []byte("}")), nil
}

func (s *Session) printDatabases(reply bson.Raw) error {
	dbs, _ := reply.Lookup("databases").ArrayOK()
	values, err := dbs.Values()
	if err != nil {
		return command.NewExecutionError("read listDatabases reply", err)
	}
	width := 0
	for _, v := range values {
		if name, ok := v.Document().Lookup("name").StringValueOK(); ok && len(name) > width {
			width = len(name)
		}
	}
	for _, v := range values {
		doc := v.Document()
		name, _ := doc.Lookup("name").StringValueOK()
		size := doc.Lookup("sizeOnDisk")
		var n int64
		switch size.Type {
		case bson.TypeInt64:
			n = size.Int64()
		case bson.TypeInt32:
			n = int64(size.Int32())
		case bson.TypeDouble:
			n = int64(size.Double())
		}
		if _, err := fmt.Fprintf(s.out, "%-*s  %s\n", width, name, humanSize(n)); err != nil {
			return err
		}
	}
	return nil
}

func humanSize(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for m := n / unit; m >= unit; m /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.2f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}
