package main

import (
	"fmt"
	"log"
	"net/http"
	"os"
	"strings"

	"github.com/knadh/koanf"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"

	yml "gopkg.in/yaml.v2"

	"github.com/golaborate/gf2/gf2"
)

var (
	// Version is the version number.  Typically injected via ldflags with git build
	Version = "1"

	// ConfigFileName is what it sounds like
	ConfigFileName = "gf2srv.yml"
	k              = koanf.New(".")
)

func setupconfig() {
	k.Load(structs.Provider(Config{
		Addr:         ":8000",
		Endpoint:     "gf2",
		ClearOnStart: true,
		Metrics:      true}, "koanf"), nil)
	if err := k.Load(file.Provider(ConfigFileName), yaml.Parser()); err != nil {
		errtxt := err.Error()
		if !strings.Contains(errtxt, "no such") { // file missing, who cares
			log.Fatalf("error loading config: %v", err)
		}
	}
}

func root() {
	str := `gf2srv exposes a GF2 function generator over HTTP.

Usage:
	gf2srv <command>

Commands:
	run
	list
	help
	mkconf
	conf
	version`
	fmt.Println(str)
}

func help() {
	str := `gf2srv is amenable to configuration via its .yaml file.  For a primer on YAML, see
https://yaml.org/start.html

Fields:
	Addr          address to listen at, e.g. ":8000"
	Serial        USB serial number of the GF2, empty for the first one found
	Endpoint      path the routes are served under, e.g. "omc/gf2"
	Mock          use an in-memory bridge instead of hardware
	ClearOnStart  bring the generator to a known state when the server starts
	Metrics       serve Prometheus metrics on /metrics

The leading and trailing slashes of Endpoint are added by the server if missing.

Once running, GET <Endpoint>/endpoints lists the routes.  Amplitudes are in
volts peak-to-peak, frequencies in kHz and phases in degrees.`
	fmt.Println(str)
}

func mkconf() {
	c := Config{}
	err := k.Unmarshal("", &c)
	if err != nil {
		log.Fatal(err)
	}
	f, err := os.Create(ConfigFileName)
	if err != nil {
		log.Fatal(err)
	}
	defer f.Close()
	err = yml.NewEncoder(f).Encode(c)
	if err != nil {
		log.Fatal(err)
	}
}

func printconf() {
	c := Config{}
	k.Unmarshal("", &c)
	err := yml.NewEncoder(os.Stdout).Encode(c)
	if err != nil {
		log.Fatal(err)
	}
}

func pversion() {
	fmt.Printf("gf2srv version %v\n", Version)
}

func list() {
	serials, err := gf2.ListDevices()
	if err != nil {
		log.Println("error enumerating devices, the list may be incomplete:", err)
	}
	if len(serials) == 0 {
		fmt.Println("no GF2 found")
		return
	}
	for _, s := range serials {
		fmt.Println(s)
	}
}

func run() {
	c := Config{}
	err := k.Unmarshal("", &c)
	if err != nil {
		log.Fatal(err)
	}
	d, err := OpenDevice(c)
	if err != nil {
		log.Fatal("error opening GF2: ", err)
	}
	defer d.Close()
	if rev, err := d.HardwareRevision(); err == nil {
		log.Printf("opened GF2 revision %q", rev)
	}
	if err = Prepare(d, c.ClearOnStart); err != nil {
		log.Printf("error preparing GF2 (%d failures), it may not behave as expected: %v", gf2.ErrorCount(err), err)
	}
	mux := BuildMux(c, d)
	log.Println("now listening for requests at ", c.Addr)
	log.Fatal(http.ListenAndServe(c.Addr, mux))
}

func main() {
	var cmd string
	args := os.Args
	if len(args) == 1 {
		root()
		return
	}
	setupconfig()
	cmd = args[1]
	cmd = strings.ToLower(cmd)
	switch cmd {
	case "help":
		help()
		return
	case "mkconf":
		mkconf()
		return
	case "conf":
		printconf()
		return
	case "run":
		run()
		return
	case "list":
		list()
		return
	case "version":
		pversion()
		return
	default:
		log.Fatal("unknown command")
	}
}
