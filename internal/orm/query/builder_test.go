package query

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/conduit-lang/prepared/internal/orm/schema"
)

func field(name string, base schema.PrimitiveType, nullable bool) *schema.Field {
	return &schema.Field{Name: name, Type: &schema.TypeSpec{BaseType: base, Nullable: nullable}}
}

// Helper function to create a test resource schema
func createTestResource() *schema.ResourceSchema {
	resource := schema.NewResourceSchema("Post")
	resource.Fields["id"] = field("id", schema.TypeInt, false)
	resource.Fields["title"] = field("title", schema.TypeString, false)
	resource.Fields["content"] = field("content", schema.TypeText, false)
	resource.Fields["status"] = field("status", schema.TypeString, false)
	resource.Fields["views"] = field("views", schema.TypeInt, false)
	resource.Fields["published_at"] = field("published_at", schema.TypeTimestamp, true)
	resource.Fields["author_id"] = field("author_id", schema.TypeInt, false)

	resource.Relationships["author"] = &schema.Relationship{
		Type:           schema.RelationshipBelongsTo,
		TargetResource: "User",
		FieldName:      "author",
		ForeignKey:     "author_id",
	}
	resource.Relationships["comments"] = &schema.Relationship{
		Type:           schema.RelationshipHasMany,
		TargetResource: "Comment",
		FieldName:      "comments",
	}
	return resource
}

func createCommentResource() *schema.ResourceSchema {
	resource := schema.NewResourceSchema("Comment")
	resource.Fields["id"] = field("id", schema.TypeInt, false)
	resource.Fields["post_id"] = field("post_id", schema.TypeInt, false)
	resource.Fields["score"] = field("score", schema.TypeInt, false)
	resource.Fields["approved"] = field("approved", schema.TypeBool, false)
	return resource
}

func testSchemas() map[string]*schema.ResourceSchema {
	return map[string]*schema.ResourceSchema{
		"Post":    createTestResource(),
		"Comment": createCommentResource(),
	}
}

func TestNewQueryBuilder(t *testing.T) {
	schemas := testSchemas()
	qb := NewQueryBuilder(schemas["Post"], nil, schemas)

	if qb == nil {
		t.Fatal("NewQueryBuilder returned nil")
	}
	if qb.Resource() != "Post" {
		t.Errorf("Expected resource Post, got %s", qb.Resource())
	}
	if qb.paramCounter != 1 {
		t.Errorf("Expected paramCounter 1, got %d", qb.paramCounter)
	}
	if len(qb.Annotations()) != 0 || len(qb.Prefetches()) != 0 {
		t.Error("Expected a fresh builder to carry no annotations or prefetches")
	}
}

func TestWhereVariants(t *testing.T) {
	tests := []struct {
		name  string
		build func(qb *QueryBuilder)
		op    Operator
		or    bool
	}{
		{"where", func(qb *QueryBuilder) { qb.Where("status", OpEqual, "published") }, OpEqual, false},
		{"or where", func(qb *QueryBuilder) { qb.OrWhere("status", OpEqual, "draft") }, OpEqual, true},
		{"in", func(qb *QueryBuilder) { qb.WhereIn("status", []interface{}{"a", "b"}) }, OpIn, false},
		{"null", func(qb *QueryBuilder) { qb.WhereNull("published_at") }, OpIsNull, false},
		{"not null", func(qb *QueryBuilder) { qb.WhereNotNull("published_at") }, OpIsNotNull, false},
		{"between", func(qb *QueryBuilder) { qb.WhereBetween("views", 1, 10) }, OpBetween, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			qb := NewQueryBuilder(createTestResource(), nil, nil)
			tt.build(qb)

			if len(qb.conditions) != 1 {
				t.Fatalf("Expected 1 condition, got %d", len(qb.conditions))
			}
			cond := qb.conditions[0]
			if cond.Operator != tt.op {
				t.Errorf("Expected operator %s, got %s", tt.op, cond.Operator)
			}
			if cond.Or != tt.or {
				t.Errorf("Expected Or=%v, got %v", tt.or, cond.Or)
			}
		})
	}
}

func TestWhere_InvalidField(t *testing.T) {
	defer func() {
		if r := recover(); r == nil {
			t.Error("Expected panic for unknown field")
		}
	}()

	NewQueryBuilder(createTestResource(), nil, nil).Where("nonexistent", OpEqual, 1)
}

func TestHaving_AllowsAggregates(t *testing.T) {
	qb := NewQueryBuilder(createTestResource(), nil, nil)
	qb.GroupBy("status").Having("COUNT(*)", OpGreaterThan, 5)

	sql, args, err := qb.ToSQL()
	if err != nil {
		t.Fatalf("ToSQL failed: %v", err)
	}
	expected := "SELECT * FROM posts GROUP BY status HAVING COUNT(*) > $1"
	if sql != expected {
		t.Errorf("Expected SQL:\n%s\nGot:\n%s", expected, sql)
	}
	if len(args) != 1 || args[0] != 5 {
		t.Errorf("Unexpected args: %v", args)
	}
}

func TestToSQL(t *testing.T) {
	tests := []struct {
		name     string
		build    func(qb *QueryBuilder)
		expected string
		args     []interface{}
	}{
		{
			name:     "simple select",
			build:    func(qb *QueryBuilder) {},
			expected: "SELECT * FROM posts",
		},
		{
			name:     "where",
			build:    func(qb *QueryBuilder) { qb.Where("status", OpEqual, "published") },
			expected: "SELECT * FROM posts WHERE status = $1",
			args:     []interface{}{"published"},
		},
		{
			name: "or condition",
			build: func(qb *QueryBuilder) {
				qb.Where("status", OpEqual, "published").OrWhere("status", OpEqual, "draft")
			},
			expected: "SELECT * FROM posts WHERE status = $1 OR status = $2",
			args:     []interface{}{"published", "draft"},
		},
		{
			name: "complex",
			build: func(qb *QueryBuilder) {
				qb.Where("status", OpEqual, "published").
					Where("views", OpGreaterThan, 100).
					OrderByDesc("published_at").
					Limit(10).
					Offset(20)
			},
			expected: "SELECT * FROM posts WHERE status = $1 AND views > $2 ORDER BY published_at DESC LIMIT $3 OFFSET $4",
			args:     []interface{}{"published", 100, 10, 20},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			qb := NewQueryBuilder(createTestResource(), nil, nil)
			tt.build(qb)

			sql, args, err := qb.ToSQL()
			if err != nil {
				t.Fatalf("ToSQL failed: %v", err)
			}
			if sql != tt.expected {
				t.Errorf("Expected SQL:\n%s\nGot:\n%s", tt.expected, sql)
			}
			if len(args) != len(tt.args) {
				t.Fatalf("Expected %d args, got %d", len(tt.args), len(args))
			}
			for i := range args {
				if args[i] != tt.args[i] {
					t.Errorf("arg %d: expected %v, got %v", i, tt.args[i], args[i])
				}
			}
		})
	}
}

func TestToSQL_IsRepeatable(t *testing.T) {
	qb := NewQueryBuilder(createTestResource(), nil, nil)
	qb.Where("status", OpEqual, "published").Limit(5)

	first, _, err := qb.ToSQL()
	if err != nil {
		t.Fatalf("ToSQL failed: %v", err)
	}
	second, args, err := qb.ToSQL()
	if err != nil {
		t.Fatalf("ToSQL failed: %v", err)
	}
	if first != second {
		t.Errorf("ToSQL output changed between calls:\n%s\n%s", first, second)
	}
	if len(args) != 2 {
		t.Errorf("Expected 2 args, got %d", len(args))
	}
}

func TestAnnotate(t *testing.T) {
	schemas := testSchemas()

	t.Run("adds annotation", func(t *testing.T) {
		qb := NewQueryBuilder(schemas["Post"], nil, schemas)
		if err := qb.Annotate("double_views", Mul(F("views"), Value(2))); err != nil {
			t.Fatalf("Annotate failed: %v", err)
		}
		annotations := qb.Annotations()
		if len(annotations) != 1 || annotations[0].Name != "double_views" {
			t.Errorf("Unexpected annotations: %v", annotations)
		}
	})

	t.Run("references an earlier annotation", func(t *testing.T) {
		qb := NewQueryBuilder(schemas["Post"], nil, schemas)
		if err := qb.Annotate("comment_count", Count("comments")); err != nil {
			t.Fatalf("Annotate failed: %v", err)
		}
		if err := qb.Annotate("double_count", Mul(F("comment_count"), Value(2))); err != nil {
			t.Fatalf("Annotate failed: %v", err)
		}
	})

	t.Run("rejects a later annotation", func(t *testing.T) {
		qb := NewQueryBuilder(schemas["Post"], nil, schemas)
		err := qb.Annotate("double_count", Mul(F("comment_count"), Value(2)))
		if !errors.Is(err, ErrUnknownReference) {
			t.Errorf("Expected ErrUnknownReference, got %v", err)
		}
		if len(qb.Annotations()) != 0 {
			t.Error("Rejected annotation must not be stored")
		}
	})

	t.Run("rejects taken names", func(t *testing.T) {
		qb := NewQueryBuilder(schemas["Post"], nil, schemas)
		for _, name := range []string{"views", "comments"} {
			if err := qb.Annotate(name, Value(1)); !errors.Is(err, ErrDuplicateName) {
				t.Errorf("Annotate(%s): expected ErrDuplicateName, got %v", name, err)
			}
		}
		if err := qb.Annotate("one", Value(1)); err != nil {
			t.Fatalf("Annotate failed: %v", err)
		}
		if err := qb.Annotate("one", Value(1)); !errors.Is(err, ErrDuplicateName) {
			t.Errorf("Expected ErrDuplicateName, got %v", err)
		}
	})

	t.Run("rejects invalid names", func(t *testing.T) {
		qb := NewQueryBuilder(schemas["Post"], nil, schemas)
		if err := qb.Annotate("bad name", Value(1)); err == nil {
			t.Error("Expected error for invalid name")
		}
		if err := qb.Annotate("nothing", nil); err == nil {
			t.Error("Expected error for nil expression")
		}
	})
}

func TestToSQL_WithAnnotations(t *testing.T) {
	schemas := testSchemas()
	qb := NewQueryBuilder(schemas["Post"], nil, schemas)

	if err := qb.Annotate("approved_count", Count("comments").Filter("approved", OpEqual, true)); err != nil {
		t.Fatalf("Annotate failed: %v", err)
	}
	if err := qb.Annotate("weighted", Mul(F("approved_count"), Value(3))); err != nil {
		t.Fatalf("Annotate failed: %v", err)
	}
	qb.Where("status", OpEqual, "published").Limit(10)

	sql, args, err := qb.ToSQL()
	if err != nil {
		t.Fatalf("ToSQL failed: %v", err)
	}

	count := `(SELECT COUNT(*) FROM "comments" AS "__comments" WHERE "__comments"."post_id" = "posts"."id" AND "__comments"."approved" = $%d)`
	expected := "SELECT posts.*, " +
		strings.Replace(count, "%d", "1", 1) + ` AS "approved_count", ` +
		"((" + strings.Replace(count, "%d", "2", 1) + `) * $3) AS "weighted"` +
		" FROM posts WHERE status = $4 LIMIT $5"
	if sql != expected {
		t.Errorf("Expected SQL:\n%s\nGot:\n%s", expected, sql)
	}

	wantArgs := []interface{}{true, true, 3, "published", 10}
	if len(args) != len(wantArgs) {
		t.Fatalf("Expected %d args, got %d: %v", len(wantArgs), len(args), args)
	}
	for i := range wantArgs {
		if args[i] != wantArgs[i] {
			t.Errorf("arg %d: expected %v, got %v", i, wantArgs[i], args[i])
		}
	}
}

func TestPrefetch(t *testing.T) {
	schemas := testSchemas()

	t.Run("binds relation to attribute", func(t *testing.T) {
		qb := NewQueryBuilder(schemas["Post"], nil, schemas)
		restrict := NewQueryBuilder(schemas["Comment"], nil, schemas).Where("approved", OpEqual, true)
		if err := qb.Prefetch("approved_comments", NewPrefetch("comments", restrict)); err != nil {
			t.Fatalf("Prefetch failed: %v", err)
		}
		prefetches := qb.Prefetches()
		if len(prefetches) != 1 || prefetches[0].Attr != "approved_comments" || prefetches[0].Relation != "comments" {
			t.Errorf("Unexpected prefetches: %+v", prefetches)
		}
	})

	t.Run("unknown relation", func(t *testing.T) {
		qb := NewQueryBuilder(schemas["Post"], nil, schemas)
		err := qb.Prefetch("tags_list", NewPrefetch("tags", nil))
		if !errors.Is(err, ErrUnknownRelation) {
			t.Errorf("Expected ErrUnknownRelation, got %v", err)
		}
	})

	t.Run("restricting query of the wrong resource", func(t *testing.T) {
		qb := NewQueryBuilder(schemas["Post"], nil, schemas)
		restrict := NewQueryBuilder(schemas["Post"], nil, schemas)
		if err := qb.Prefetch("approved_comments", NewPrefetch("comments", restrict)); err == nil {
			t.Error("Expected error for mismatched restricting query")
		}
	})

	t.Run("attribute clashes with annotation", func(t *testing.T) {
		qb := NewQueryBuilder(schemas["Post"], nil, schemas)
		if err := qb.Annotate("extra", Value(1)); err != nil {
			t.Fatalf("Annotate failed: %v", err)
		}
		if err := qb.Prefetch("extra", NewPrefetch("comments", nil)); !errors.Is(err, ErrDuplicateName) {
			t.Errorf("Expected ErrDuplicateName, got %v", err)
		}
	})
}

func TestWhereSQL(t *testing.T) {
	qb := NewQueryBuilder(createCommentResource(), nil, nil)
	qb.Where("approved", OpEqual, true).OrWhere("score", OpGreaterThanOrEqual, 5)

	where, args, err := qb.WhereSQL("c", 3)
	if err != nil {
		t.Fatalf("WhereSQL failed: %v", err)
	}
	expected := `"c"."approved" = $3 OR "c"."score" >= $4`
	if where != expected {
		t.Errorf("Expected %s, got %s", expected, where)
	}
	if len(args) != 2 || args[0] != true || args[1] != 5 {
		t.Errorf("Unexpected args: %v", args)
	}
	if qb.paramCounter != 1 {
		t.Error("WhereSQL must not disturb the query's own parameter numbering")
	}
}

func TestPreparedTracking(t *testing.T) {
	qb := NewQueryBuilder(createTestResource(), nil, nil)
	if qb.IsPrepared("double_views") {
		t.Fatal("Fresh builder reports a prepared property")
	}
	qb.MarkPrepared("double_views")
	if !qb.IsPrepared("double_views") {
		t.Error("Expected double_views to be prepared")
	}
}

func TestClone(t *testing.T) {
	schemas := testSchemas()
	qb := NewQueryBuilder(schemas["Post"], nil, schemas)
	qb.Where("status", OpEqual, "published").OrderByDesc("published_at").Limit(10)
	if err := qb.Annotate("comment_count", Count("comments")); err != nil {
		t.Fatalf("Annotate failed: %v", err)
	}
	qb.MarkPrepared("comment_count")

	clone := qb.Clone()
	clone.Where("views", OpGreaterThan, 100)
	if err := clone.Annotate("double_count", Mul(F("comment_count"), Value(2))); err != nil {
		t.Fatalf("Annotate on clone failed: %v", err)
	}
	clone.MarkPrepared("double_count")
	clone.Limit(1)

	if len(qb.conditions) != 1 || len(qb.Annotations()) != 1 {
		t.Error("Original query builder was modified")
	}
	if qb.IsPrepared("double_count") {
		t.Error("Prepared set leaked from clone to original")
	}
	if *qb.limit != 10 {
		t.Errorf("Original limit changed to %d", *qb.limit)
	}
	if !clone.IsPrepared("comment_count") {
		t.Error("Clone should inherit prepared properties")
	}
	if len(clone.conditions) != 2 || len(clone.Annotations()) != 2 {
		t.Error("Clone is missing its own changes")
	}
}

func TestCount_IgnoresAnnotations(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("Failed to create mock: %v", err)
	}
	defer db.Close()

	schemas := testSchemas()
	qb := NewQueryBuilder(schemas["Post"], db, schemas)
	if err := qb.Annotate("double_views", Mul(F("views"), Value(2))); err != nil {
		t.Fatalf("Annotate failed: %v", err)
	}
	qb.Where("status", OpEqual, "published")

	mock.ExpectQuery(`SELECT COUNT\(\*\) FROM posts WHERE status = \$1`).
		WithArgs("published").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(4))

	count, err := qb.Count(context.Background())
	if err != nil {
		t.Fatalf("Count failed: %v", err)
	}
	if count != 4 {
		t.Errorf("Expected 4, got %d", count)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("Unfulfilled expectations: %v", err)
	}
}

func TestCount_IgnoresOrderingAndPaging(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("Failed to create mock: %v", err)
	}
	defer db.Close()

	qb := NewQueryBuilder(createTestResource(), db, nil).
		Where("status", OpEqual, "published").
		OrderByDesc("published_at").
		Limit(10).
		Offset(20)

	mock.ExpectQuery(`^SELECT COUNT\(\*\) FROM posts WHERE status = \$1$`).
		WithArgs("published").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(42))

	count, err := qb.Count(context.Background())
	if err != nil {
		t.Fatalf("Count failed: %v", err)
	}
	if count != 42 {
		t.Errorf("Expected 42, got %d", count)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("Unfulfilled expectations: %v", err)
	}

	sql, args, err := qb.ToSQL()
	if err != nil {
		t.Fatalf("ToSQL failed: %v", err)
	}
	expected := "SELECT * FROM posts WHERE status = $1 ORDER BY published_at DESC LIMIT $2 OFFSET $3"
	if sql != expected {
		t.Errorf("Count changed the query:\n%s", sql)
	}
	if len(args) != 3 {
		t.Errorf("Expected 3 args, got %v", args)
	}
}

func TestAll_PrefetchRequiresLoader(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("Failed to create mock: %v", err)
	}
	defer db.Close()

	schemas := testSchemas()
	qb := NewQueryBuilder(schemas["Post"], db, schemas)
	if err := qb.Prefetch("all_comments", NewPrefetch("comments", nil)); err != nil {
		t.Fatalf("Prefetch failed: %v", err)
	}

	mock.ExpectQuery(`SELECT \* FROM posts`).
		WillReturnRows(sqlmock.NewRows([]string{"id", "title"}).AddRow(1, []byte("Hello")))

	if _, err := qb.All(context.Background()); err == nil {
		t.Error("Expected error when prefetching without a loader")
	}
}

func TestAll_ScansRows(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("Failed to create mock: %v", err)
	}
	defer db.Close()

	qb := NewQueryBuilder(createTestResource(), db, nil)
	mock.ExpectQuery(`SELECT \* FROM posts`).
		WillReturnRows(sqlmock.NewRows([]string{"id", "title"}).
			AddRow(1, []byte("Hello")).
			AddRow(2, []byte("World")))

	records, err := qb.All(context.Background())
	if err != nil {
		t.Fatalf("All failed: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("Expected 2 records, got %d", len(records))
	}
	if records[1]["title"] != "World" {
		t.Errorf("Expected []byte to be converted to string, got %#v", records[1]["title"])
	}
}

func BenchmarkQueryBuilder_ToSQL(b *testing.B) {
	schemas := testSchemas()
	qb := NewQueryBuilder(schemas["Post"], nil, schemas)
	qb.Where("status", OpEqual, "published").Limit(10)
	_ = qb.Annotate("comment_count", Count("comments"))

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_, _, _ = qb.ToSQL()
	}
}
