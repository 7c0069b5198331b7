// Copyright Amazon.com, Inc. or its affiliates. All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

/*
Package config provides a simple way to manage configuration files.

Use [LoadFromFile](filename) to load a configuration from a specific filename.

Use [SetGlobalConfig](filename) to set filename as the global config, and then [LoadGlobal]() to load the global config.

A config file should be in yaml format. The top-level fields are the options of the instrumentation, and the
runtime options are grouped under the runtime key. Options that are not specified keep the value of [NewDefault].
For example, a valid config file is as follows:

	log-level: 5
	granule-size: 16
	alias-mode: closure
	instrument-stack: true
	instrument-pointers: true
	runtime:
	  heap-size: 65536
	  table-capacity: 8

# Logging

The [LogGroup] provides one logger per level. Components receive a *LogGroup and log their classification decisions
at the debug and trace levels.
*/
package config
