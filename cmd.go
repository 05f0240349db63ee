package main

import "github.com/stupid-simple/pkgmirror/config"

type Command struct {
	Version struct{} `cmd:"" help:"Print version information."`
	Daemon  struct {
		Config   string `help:"config file path" short:"c" required:""`
		Database string `help:"database path" short:"d" required:""`
	} `cmd:"" help:"Run the mirror service."`
	Sync struct {
		Config   string `help:"config file path" short:"c" required:""`
		Database string `help:"database path" short:"d" required:""`
		Repo     string `help:"id of the repo to synchronize" short:"r" required:""`
	} `cmd:"" help:"Synchronize one repo now."`
	Tasks struct {
		Database string `help:"database path" short:"d" required:""`
		Repo     string `help:"only list tasks of this repo" short:"r"`
		Limit    int    `help:"tasks per page" default:"20"`
		Page     int    `help:"page to list, starting at 1" default:"1"`
	} `cmd:"" help:"List synchronization tasks, newest first."`
	Status struct {
		Config   string `help:"config file path" short:"c" required:""`
		Database string `help:"database path" short:"d" required:""`
	} `cmd:"" help:"Show the latest task of every repo."`
	Packages struct {
		Config   string `help:"config file path, adds download locations when set" short:"c"`
		Database string `help:"database path" short:"d" required:""`
		Repo     string `help:"repo id" short:"r" required:""`
		Name     string `help:"only list versions of this package" short:"n"`
	} `cmd:"" help:"List mirrored packages of a repo, newest versions first."`
	Cleanup struct {
		Config    string          `help:"config file path" short:"c" required:""`
		Database  string          `help:"database path" short:"d" required:""`
		Retention config.Duration `help:"override the configured log retention, e.g. 72h"`
	} `cmd:"" help:"Delete expired task logs."`
}
