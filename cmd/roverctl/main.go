/*
 * Copyright 2025 RoverLab Robotics.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package main

import (
	"fmt"
	"os"

	"github.com/roverlab/roverlink/pkg/cli"
)

func main() {
	cfg, err := cli.ParseFlags()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		cli.ShowHelp()
		os.Exit(1)
	}

	if cfg.Help {
		cli.ShowHelp()
		os.Exit(0)
	}

	if err := run(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(cfg *cli.CmdConfig) error {
	switch cfg.SubCmd {
	case "status":
		return cli.RunStatus(cfg)
	case "send":
		return cli.RunSend(cfg)
	case "watch":
		return cli.RunWatch(cfg)
	case "roster":
		return cli.RunRoster(cfg)
	case "console":
		return cli.RunConsole(cfg)
	default:
		cli.ShowHelp()

		return nil
	}
}
