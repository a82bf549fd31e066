package migrate

import (
	"context"
	"io/fs"
	"regexp"
	"testing"
	"testing/fstest"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/go-cmp/cmp"
)

func TestSplitStatements(t *testing.T) {
	src := `
-- header; with a semicolon
create table a (v text default 'x;y');
create function f() returns int language plpgsql as $$
begin
    perform 1;
    return 2;
end;
$$;
insert into a values ($1);
`
	got := splitStatements(src)
	want := []string{
		"-- header; with a semicolon\ncreate table a (v text default 'x;y');",
		"create function f() returns int language plpgsql as $$\nbegin\n    perform 1;\n    return 2;\nend;\n$$;",
		"insert into a values ($1);",
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("statements mismatch (-want +got):\n%s", diff)
	}
}

func TestDollarTag(t *testing.T) {
	cases := map[string]string{"$$ x": "$$", "$body$ x": "$body$", "$1": "", "$": "", "$a1$": "$a1$"}
	for in, want := range cases {
		if got := dollarTag(in); got != want {
			t.Fatalf("dollarTag(%q)=%q, want %q", in, got, want)
		}
	}
}

func TestEmbeddedMigrationsArePaired(t *testing.T) {
	migrations, seeds := Embedded()
	ups, err := collectSQL(migrations, ".up.sql")
	if err != nil {
		t.Fatalf("collect: %v", err)
	}
	if len(ups) < 2 {
		t.Fatalf("expected bundled migrations, got %v", ups)
	}
	for _, up := range ups {
		down := up[:len(up)-len(".up.sql")] + ".down.sql"
		if _, err := migrations.Open(down); err != nil {
			t.Fatalf("missing %s", down)
		}
	}
	if files, _ := collectSQL(seeds, ".sql"); len(files) == 0 {
		t.Fatalf("expected bundled seeds")
	}
}

func TestAdminActionsOutliveTheirAdmin(t *testing.T) {
	migrations, _ := Embedded()
	raw, err := fs.ReadFile(migrations, "0002_admin_actions.up.sql")
	if err != nil {
		t.Fatalf("read migration: %v", err)
	}
	src := string(raw)
	if regexp.MustCompile(`(?i)on\s+delete\s+cascade`).MatchString(src) {
		t.Fatalf("deleting an admin must not delete its audit history")
	}
	col := regexp.MustCompile(`(?im)^\s*admin_id\s+uuid\b.*$`).FindString(src)
	if col == "" {
		t.Fatalf("admin_id column not found")
	}
	if regexp.MustCompile(`(?i)not\s+null`).MatchString(col) {
		t.Fatalf("admin_id must be nullable: %q", col)
	}
	if !regexp.MustCompile(`(?i)on\s+delete\s+set\s+null`).MatchString(col) {
		t.Fatalf("admin_id must be set null on admin delete: %q", col)
	}
}

func TestUpAppliesPending(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	fsys := fstest.MapFS{
		"0001_a.up.sql":   {Data: []byte("create table a (id int);")},
		"0001_a.down.sql": {Data: []byte("drop table a;")},
		"0002_b.up.sql":   {Data: []byte("create table b (id int); create index b_idx on b(id);")},
	}

	mock.ExpectExec("create table if not exists schema_migrations").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("create table if not exists schema_seeds").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("select name from schema_migrations").
		WillReturnRows(sqlmock.NewRows([]string{"name"}).AddRow("0001_a.up.sql"))
	mock.ExpectBegin()
	mock.ExpectExec("create table b").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("create index b_idx").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectCommit()
	mock.ExpectExec("insert into schema_migrations").WithArgs("0002_b.up.sql", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))

	if err := NewManager(db, fsys, nil).Up(context.Background()); err != nil {
		t.Fatalf("Up: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestSeedAppliesSettings(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	seeds := fstest.MapFS{"0001_seed.sql": {Data: []byte("insert into admins values (1);")}}

	mock.ExpectExec("create table if not exists schema_migrations").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("create table if not exists schema_seeds").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("select name from schema_seeds").WillReturnRows(sqlmock.NewRows([]string{"name"}))
	mock.ExpectBegin()
	mock.ExpectExec(`select set_config\(\$1, \$2, true\)`).WithArgs("app.bootstrap_user_id", "u-1").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("insert into admins").WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()
	mock.ExpectExec("insert into schema_seeds").WithArgs("0001_seed.sql", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))

	mgr := NewManager(db, nil, seeds, WithSetting("app.bootstrap_user_id", "u-1"))
	if err := mgr.Seed(context.Background()); err != nil {
		t.Fatalf("Seed: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestDownWithoutHistory(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	mock.ExpectExec("create table if not exists schema_migrations").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("create table if not exists schema_seeds").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("select name from schema_migrations order by").WillReturnRows(sqlmock.NewRows([]string{"name"}))

	if err := NewManager(db, fstest.MapFS{}, nil).Down(context.Background()); err == nil {
		t.Fatalf("expected error when nothing is applied")
	}
}
