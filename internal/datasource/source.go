// Package datasource provides paginated access to the hosted site's
// database: content tables for the spamvertising checker, user and option
// tables for the audits, and arbitrary table/column pairs for the deep
// scan. All readers are batched; no caller ever holds more than one batch
// in memory.
package datasource

import (
	"fmt"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Post is a row from the site's posts table.
type Post struct {
	ID      int64     `gorm:"column:ID"`
	Title   string    `gorm:"column:post_title"`
	Content string    `gorm:"column:post_content"`
	Status  string    `gorm:"column:post_status"`
	Date    time.Time `gorm:"column:post_date"`
}

// Comment is a row from the site's comments table.
type Comment struct {
	ID          int64  `gorm:"column:comment_ID"`
	AuthorName  string `gorm:"column:comment_author"`
	AuthorEmail string `gorm:"column:comment_author_email"`
	AuthorURL   string `gorm:"column:comment_author_url"`
	Content     string `gorm:"column:comment_content"`
	UserID      int64  `gorm:"column:user_id"`
}

// User is a row from the site's users table.
type User struct {
	ID          int64     `gorm:"column:ID"`
	Login       string    `gorm:"column:user_login"`
	Email       string    `gorm:"column:user_email"`
	PassHash    string    `gorm:"column:user_pass"`
	DisplayName string    `gorm:"column:display_name"`
	Registered  time.Time `gorm:"column:user_registered"`
}

// Option is a row from the site's options table.
type Option struct {
	Name     string `gorm:"column:option_name"`
	Value    string `gorm:"column:option_value"`
	Autoload string `gorm:"column:autoload"`
}

// Row is one value from a deep-scan target column.
type Row struct {
	ID    int64
	Value string
}

// Source is the relational collaborator consumed by the checkers.
type Source interface {
	Posts(offset, limit int64) ([]Post, error)
	Comments(offset, limit int64) ([]Comment, error)

	// AdminUsers lists administrators through the standard capability
	// query.
	AdminUsers() ([]User, error)

	// AdminUsersRaw lists administrators by scanning capability metadata
	// directly. Malware can filter the standard listing; this one reads
	// the persistence layer itself.
	AdminUsersRaw() ([]User, error)

	AutoloadedOptions() ([]Option, error)

	// IterateColumn reads one batch of values from a deep-scan target.
	IterateColumn(table, idCol, column string, offset int64, limit int) ([]Row, error)

	SiteURL() (string, error)
}

// DB reads the site database through gorm.
type DB struct {
	db     *gorm.DB
	prefix string
}

// Open connects to the site database.
func Open(dsn, tablePrefix string) (*DB, error) {
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	return &DB{db: db, prefix: tablePrefix}, nil
}

// NewWithGorm wraps an existing gorm handle, used by tests.
func NewWithGorm(db *gorm.DB, tablePrefix string) *DB {
	return &DB{db: db, prefix: tablePrefix}
}

func (d *DB) table(name string) string {
	return d.prefix + name
}

// Posts reads one batch of published posts ordered by ID.
func (d *DB) Posts(offset, limit int64) ([]Post, error) {
	var posts []Post
	err := d.db.Table(d.table("posts")).
		Order("ID").
		Offset(int(offset)).
		Limit(int(limit)).
		Find(&posts).Error
	if err != nil {
		return nil, fmt.Errorf("read posts: %w", err)
	}
	return posts, nil
}

// Comments reads one batch of comments ordered by ID.
func (d *DB) Comments(offset, limit int64) ([]Comment, error) {
	var comments []Comment
	err := d.db.Table(d.table("comments")).
		Order("comment_ID").
		Offset(int(offset)).
		Limit(int(limit)).
		Find(&comments).Error
	if err != nil {
		return nil, fmt.Errorf("read comments: %w", err)
	}
	return comments, nil
}

// AdminUsers lists administrators via the capability metadata join, the
// same query the standard user listing runs.
func (d *DB) AdminUsers() ([]User, error) {
	var users []User
	q := fmt.Sprintf(
		`SELECT u.* FROM %s u
		 JOIN %s m ON m.user_id = u.ID
		 WHERE m.meta_key = ? AND m.meta_value LIKE ?`,
		d.table("users"), d.table("usermeta"))
	err := d.db.Raw(q, d.prefix+"capabilities", "%administrator%").Scan(&users).Error
	if err != nil {
		return nil, fmt.Errorf("list admin users: %w", err)
	}
	return users, nil
}

// AdminUsersRaw scans the capability metadata table directly, picking up
// accounts a compromised listing API would hide.
func (d *DB) AdminUsersRaw() ([]User, error) {
	var ids []int64
	q := fmt.Sprintf(
		`SELECT user_id FROM %s WHERE meta_key LIKE ? AND meta_value LIKE ?`,
		d.table("usermeta"))
	if err := d.db.Raw(q, "%capabilities", "%administrator%").Scan(&ids).Error; err != nil {
		return nil, fmt.Errorf("raw capability scan: %w", err)
	}
	if len(ids) == 0 {
		return nil, nil
	}

	var users []User
	uq := fmt.Sprintf(`SELECT * FROM %s WHERE ID IN ?`, d.table("users"))
	if err := d.db.Raw(uq, ids).Scan(&users).Error; err != nil {
		return nil, fmt.Errorf("raw user read: %w", err)
	}
	return users, nil
}

// AutoloadedOptions reads every autoloaded configuration option.
func (d *DB) AutoloadedOptions() ([]Option, error) {
	var opts []Option
	err := d.db.Table(d.table("options")).
		Where("autoload = ?", "yes").
		Find(&opts).Error
	if err != nil {
		return nil, fmt.Errorf("read options: %w", err)
	}
	return opts, nil
}

// IterateColumn reads one batch of values from a configured deep-scan
// target. Table and column names come from configuration, not user
// input; they are still restricted to identifier characters.
func (d *DB) IterateColumn(table, idCol, column string, offset int64, limit int) ([]Row, error) {
	for _, ident := range []string{table, idCol, column} {
		if !validIdent(ident) {
			return nil, fmt.Errorf("invalid identifier %q", ident)
		}
	}

	q := fmt.Sprintf(`SELECT %s AS id, %s AS value FROM %s ORDER BY %s LIMIT ? OFFSET ?`,
		idCol, column, table, idCol)

	var rows []Row
	if err := d.db.Raw(q, limit, offset).Scan(&rows).Error; err != nil {
		return nil, fmt.Errorf("iterate %s.%s: %w", table, column, err)
	}
	return rows, nil
}

// SiteURL reads the site's home URL option.
func (d *DB) SiteURL() (string, error) {
	var opt Option
	err := d.db.Table(d.table("options")).
		Where("option_name = ?", "siteurl").
		First(&opt).Error
	if err != nil {
		return "", err
	}
	return opt.Value, nil
}

func validIdent(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		ok := r == '_' ||
			(r >= 'a' && r <= 'z') ||
			(r >= 'A' && r <= 'Z') ||
			(r >= '0' && r <= '9')
		if !ok {
			return false
		}
	}
	return true
}
