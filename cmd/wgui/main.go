package main

import (
	"fmt"
	"net"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/knadh/koanf"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	argon2 "github.com/mdouchement/simple-argon2"
	"github.com/muesli/coral"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/wgui/wgui/internal/database"
	"github.com/wgui/wgui/internal/mailer"
	"github.com/wgui/wgui/internal/model"
	"github.com/wgui/wgui/internal/scheduler"
	"github.com/wgui/wgui/internal/server"
	"github.com/wgui/wgui/internal/task"
	lumberjack "gopkg.in/natefinch/lumberjack.v2"
)

const dbname = "wgui.db"

var (
	version  = "dev"
	revision = "none"
	date     = "unknown"

	cfg string
)

func main() {
	c := &coral.Command{
		Use:     "wgui",
		Short:   "Allow/deny list manager",
		Version: fmt.Sprintf("%s - build %.7s @ %s - %s", version, revision, date, runtime.Version()),
		Args:    coral.ExactArgs(0),
	}
	initCmd.Flags().StringVarP(&cfg, "config", "c", "", "Configuration file")
	c.AddCommand(initCmd)

	reindexCmd.Flags().StringVarP(&cfg, "config", "c", "", "Configuration file")
	c.AddCommand(reindexCmd)

	serverCmd.Flags().StringVarP(&cfg, "config", "c", "", "Configuration file")
	c.AddCommand(serverCmd)

	if err := c.Execute(); err != nil {
		logrus.Fatalf("%+v", err)
	}
}

func dbnameWithPath(path string) string {
	if len(path) == 0 {
		return dbname
	}
	return filepath.Join(path, dbname)
}

func backupDirectory(konf *koanf.Koanf) string {
	if dir := konf.String("backup.directory"); dir != "" {
		return dir
	}
	return filepath.Join(konf.String("database_path"), "backups")
}

// seed creates the primary admin and the reserved system user unless they
// already exist.
func seed(db database.Client, username, password string) error {
	if _, err := db.FindUserByUsername(username); err == nil {
		return nil
	} else if !db.IsNotFound(err) {
		return err
	}

	hashed, err := argon2.GenerateFromPasswordString(password, argon2.Default)
	if err != nil {
		return errors.Wrap(err, "could not hash password")
	}

	admin := model.NewUser()
	admin.Username = username
	admin.Email = username + "@localhost"
	admin.HashedPassword = hashed
	admin.Admin = true
	if err := db.Save(admin); err != nil {
		return errors.Wrap(err, "could not create admin user")
	}

	if _, err := db.FindUserByUsername(model.SystemUsername); err == nil {
		return nil
	} else if !db.IsNotFound(err) {
		return err
	}

	system := &model.User{
		Username: model.SystemUsername,
		Email:    "system@localhost",
		Admin:    true,
	}
	return errors.Wrap(db.Save(system), "could not create system user")
}

func logger(konf *koanf.Koanf) logrus.FieldLogger {
	log := logrus.New()
	if filename := konf.String("log.file"); filename != "" {
		log.SetOutput(&lumberjack.Logger{
			Filename:   filename,
			MaxSize:    50, // megabytes
			MaxBackups: 5,
			MaxAge:     30, // days
		})
	}
	return log
}

var (
	initCmd = &coral.Command{
		Use:   "init",
		Short: "Init the database and seed the admin account",
		Args:  coral.ExactArgs(0),
		RunE: func(_ *coral.Command, _ []string) error {
			konf := koanf.New(".")
			if err := konf.Load(file.Provider(cfg), yaml.Parser()); err != nil {
				return err
			}

			filename := dbnameWithPath(konf.String("database_path"))
			if err := database.StormInit(filename); err != nil {
				return err
			}

			db, err := database.StormOpen(filename)
			if err != nil {
				return err
			}
			defer db.Close()

			username := konf.String("admin.username")
			if username == "" {
				username = "admin"
			}
			password := konf.String("admin.password")
			if password == "" {
				password = "admin"
			}
			return seed(db, username, password)
		},
	}

	//
	reindexCmd = &coral.Command{
		Use:   "reindex",
		Short: "Reindex the database",
		Args:  coral.ExactArgs(0),
		RunE: func(_ *coral.Command, _ []string) error {
			konf := koanf.New(".")
			if err := konf.Load(file.Provider(cfg), yaml.Parser()); err != nil {
				return err
			}

			return database.StormReIndex(dbnameWithPath(konf.String("database_path")))
		},
	}

	//
	//
	serverCmd = &coral.Command{
		Use:   "server",
		Short: "Start server",
		Args:  coral.ExactArgs(0),
		RunE: func(_ *coral.Command, _ []string) error {
			konf := koanf.New(".")
			if err := konf.Load(file.Provider(cfg), yaml.Parser()); err != nil {
				return err
			}

			if konf.String("secret_key") == "" {
				return errors.New("secret_key not found")
			}

			db, err := database.StormOpen(dbnameWithPath(konf.String("database_path")))
			if err != nil {
				return errors.Wrap(err, "could not open database")
			}
			defer db.Close()

			log := logger(konf)

			sched := scheduler.New(log)
			runner := task.NewRunner(db, sched, mailer.NewSMTPNotifier(db), log, backupDirectory(konf))
			if err := runner.Sync(); err != nil {
				return errors.Wrap(err, "could not register jobs")
			}
			sched.Start()
			defer sched.Shutdown()

			ttl := konf.Duration("token_ttl")
			if ttl == 0 {
				ttl = time.Hour
			}
			primaryAdmin := konf.String("admin.username")
			if primaryAdmin == "" {
				primaryAdmin = "admin"
			}

			engine := server.EchoEngine(server.IOC{
				Version:             version,
				Database:            db,
				Logger:              log,
				PrimaryAdmin:        primaryAdmin,
				SigningKey:          konf.MustBytes("secret_key"),
				TokenExpirationTime: ttl,
				Runner:              runner,
				BackupDirectory:     backupDirectory(konf),
			})
			server.PrintRoutes(engine)

			address := konf.String("address")
			message := "could not run server"
			log.Printf("Server listening on %s", address)
			parts := strings.Split(address, ":")
			if len(parts) == 2 && parts[0] == "unix" {
				socketFile := parts[1]
				if _, err := os.Stat(socketFile); err == nil {
					log.Printf("Removing existing %s", socketFile)
					os.Remove(socketFile)
				}
				defer os.Remove(socketFile)
				listener, err := net.Listen(parts[0], socketFile)
				if err != nil {
					return err
				}
				return errors.Wrap(engine.Server.Serve(listener), message)
			}
			return errors.Wrap(engine.Start(address), message)
		},
	}
)
