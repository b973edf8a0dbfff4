package extractors

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func extract(t *testing.T, language, path, src string) Facts {
	t.Helper()
	ex, ok := For(language)
	require.True(t, ok, "no extractor registered for %s", language)
	facts, err := ex.Extract(context.Background(), path, []byte(src))
	require.NoError(t, err)
	return facts
}

func contractByName(t *testing.T, facts Facts, name string) Contract {
	t.Helper()
	for _, c := range facts.Contracts {
		if c.Name == name {
			return c
		}
	}
	t.Fatalf("no contract named %s in %v", name, facts.Contracts)
	return Contract{}
}

func TestGoExtract(t *testing.T) {
	src := `package main

import (
	"fmt"
	"net/http"
)

const Version = "1.0"

type Server struct {
	Addr string
	Port int
}

type Handler interface {
	Serve(ctx context.Context) error
}

func main() {
	e.GET("/users/:id", getUser)
	fmt.Println("up")
}

func NewServer(addr string) *Server { return &Server{Addr: addr} }

func helper() {}
`
	facts := extract(t, "go", "cmd/api/main.go", src)

	assert.Equal(t, []string{"Version", "Server", "Handler", "NewServer"}, facts.Exports)
	assert.Equal(t, []string{"fmt", "net/http"}, facts.Imports)

	server := contractByName(t, facts, "Server")
	assert.Equal(t, "struct", server.ContractType)
	assert.Equal(t, []string{"Addr:string", "Port:int"}, server.Fields)

	handler := contractByName(t, facts, "Handler")
	assert.Equal(t, "interface", handler.ContractType)
	assert.Equal(t, []string{"Serve:method"}, handler.Fields)

	require.Len(t, facts.EntryPoints, 2)
	assert.Equal(t, EntryMain, facts.EntryPoints[0].Type)
	assert.Equal(t, "func main()", facts.EntryPoints[0].Trigger)
	assert.Equal(t, EntryAPIRoute, facts.EntryPoints[1].Type)
	assert.Equal(t, "GET /users/:id", facts.EntryPoints[1].Trigger)
}

func TestGoMainRequiresMainPackage(t *testing.T) {
	src := `package util

func main() {}
`
	facts := extract(t, "go", "util/util.go", src)
	assert.Empty(t, facts.EntryPoints)
}

func TestGoCobraCommand(t *testing.T) {
	src := `package cmd

var rootCmd = &cobra.Command{
	Use: "recalld",
}
`
	facts := extract(t, "go", "cmd/root.go", src)
	require.Len(t, facts.EntryPoints, 1)
	assert.Equal(t, EntryCLI, facts.EntryPoints[0].Type)
	assert.Equal(t, "cobra command", facts.EntryPoints[0].Trigger)
}

func TestPythonExtract(t *testing.T) {
	src := `from dataclasses import dataclass
import os, sys


@dataclass
class Point:
    x: float
    y: float


class _Hidden:
    pass


def public_fn():
    pass


def _private():
    pass
`
	facts := extract(t, "python", "geometry.py", src)

	assert.Equal(t, []string{"Point", "public_fn"}, facts.Exports)
	assert.Equal(t, []string{"dataclasses", "os", "sys"}, facts.Imports)

	point := contractByName(t, facts, "Point")
	assert.Equal(t, "dataclass", point.ContractType)
	assert.Equal(t, []string{"x:float", "y:float"}, point.Fields)
	assert.False(t, facts.IsBarrel)
}

func TestPythonMainGuard(t *testing.T) {
	src := `def run():
    pass


if __name__ == "__main__":
    run()
`
	facts := extract(t, "python", "tools/app.py", src)
	require.Len(t, facts.EntryPoints, 1)
	assert.Equal(t, EntryMain, facts.EntryPoints[0].Type)
	assert.Equal(t, "python app.py", facts.EntryPoints[0].Trigger)
}

func TestPythonRouteDecorator(t *testing.T) {
	src := `from fastapi import FastAPI

app = FastAPI()


@app.get("/items/{item_id}")
def read_item(item_id: int):
    return {"item_id": item_id}
`
	facts := extract(t, "python", "api/routes.py", src)

	assert.Equal(t, []string{"read_item"}, facts.Exports)
	require.Len(t, facts.EntryPoints, 1)
	assert.Equal(t, EntryAPIRoute, facts.EntryPoints[0].Type)
	assert.Equal(t, "GET /items/{item_id}", facts.EntryPoints[0].Trigger)
}

func TestPythonValidatorRules(t *testing.T) {
	src := `from pydantic import BaseModel, validator


class Account(BaseModel):
    email: str

    @validator("email")
    def check_email(cls, v):
        return v
`
	facts := extract(t, "python", "models.py", src)

	account := contractByName(t, facts, "Account")
	assert.Equal(t, "pydantic_model", account.ContractType)
	assert.Equal(t, []string{"email:str"}, account.Fields)
	assert.Equal(t, []string{"validator check_email"}, account.Rules)
}

func TestPythonBarrel(t *testing.T) {
	src := `from .models import User
from .service import Service
`
	facts := extract(t, "python", "pkg/__init__.py", src)
	assert.True(t, facts.IsBarrel)
	assert.Equal(t, []string{".models", ".service"}, facts.Imports)
}

func TestTypeScriptExtract(t *testing.T) {
	src := `import { Router } from "express";

export interface User {
  id: number;
  email: string;
}

export function createUser(email: string): User {
  return { id: 1, email };
}

const router = Router();
router.get("/users", listUsers);

export const VERSION = "1.0";
`
	facts := extract(t, "typescript", "src/users.ts", src)

	assert.Equal(t, []string{"User", "createUser", "VERSION"}, facts.Exports)
	assert.Equal(t, []string{"express"}, facts.Imports)

	user := contractByName(t, facts, "User")
	assert.Equal(t, "interface", user.ContractType)
	assert.Equal(t, []string{"id:number", "email:string"}, user.Fields)

	require.Len(t, facts.EntryPoints, 1)
	assert.Equal(t, EntryAPIRoute, facts.EntryPoints[0].Type)
	assert.Equal(t, "GET /users", facts.EntryPoints[0].Trigger)
	assert.False(t, facts.IsBarrel)
}

func TestTypeScriptBarrel(t *testing.T) {
	src := `export { User } from "./models";
export { Service } from "./service";
`
	facts := extract(t, "typescript", "src/index.ts", src)
	assert.True(t, facts.IsBarrel)
	assert.Equal(t, []string{"./models", "./service"}, facts.Imports)
}

func TestJavaScriptEventHandler(t *testing.T) {
	src := `const bus = getBus();
bus.on("user.created", handleUserCreated);
`
	facts := extract(t, "javascript", "src/events.js", src)
	require.Len(t, facts.EntryPoints, 1)
	assert.Equal(t, EntryEventHandler, facts.EntryPoints[0].Type)
	assert.Equal(t, "user.created", facts.EntryPoints[0].Trigger)
}

func TestExportsCapped(t *testing.T) {
	src := "package big\n\n"
	for c := 'A'; c <= 'Z'; c++ {
		src += "func Fn" + string(c) + "() {}\n"
	}
	facts := extract(t, "go", "big.go", src)
	assert.Len(t, facts.Exports, MaxExports)
}

func TestUnknownLanguage(t *testing.T) {
	_, ok := For("cobol")
	assert.False(t, ok)
}
