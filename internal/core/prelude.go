package core

// PreludeJS is installed into every fresh context before tenant code runs.
// It gives scripts the minimal fetch-handler surface (Headers, Request,
// Response) and the __dispatch bridge the Go side drives: __dispatch takes
// the wire-JSON request, runs the module's fetch handler, and settles
// globalThis.__resp_state / __resp_json for the Go pump to collect.
const PreludeJS = `
(function() {
  'use strict';

  var B64 = 'ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789+/';

  function b64encode(bytes) {
    var out = '';
    for (var i = 0; i < bytes.length; i += 3) {
      var a = bytes[i], b = i + 1 < bytes.length ? bytes[i + 1] : 0,
          c = i + 2 < bytes.length ? bytes[i + 2] : 0;
      out += B64[a >> 2] + B64[((a & 3) << 4) | (b >> 4)];
      out += i + 1 < bytes.length ? B64[((b & 15) << 2) | (c >> 6)] : '=';
      out += i + 2 < bytes.length ? B64[c & 63] : '=';
    }
    return out;
  }

  function b64decode(str) {
    str = str.replace(/=+$/, '');
    var bytes = [];
    var buf = 0, bits = 0;
    for (var i = 0; i < str.length; i++) {
      var v = B64.indexOf(str[i]);
      if (v < 0) continue;
      buf = (buf << 6) | v;
      bits += 6;
      if (bits >= 8) {
        bits -= 8;
        bytes.push((buf >> bits) & 0xff);
      }
    }
    return new Uint8Array(bytes);
  }

  function utf8encode(str) {
    var out = [];
    for (var i = 0; i < str.length; i++) {
      var cp = str.codePointAt(i);
      if (cp > 0xffff) i++;
      if (cp < 0x80) out.push(cp);
      else if (cp < 0x800) out.push(0xc0 | (cp >> 6), 0x80 | (cp & 63));
      else if (cp < 0x10000) out.push(0xe0 | (cp >> 12), 0x80 | ((cp >> 6) & 63), 0x80 | (cp & 63));
      else out.push(0xf0 | (cp >> 18), 0x80 | ((cp >> 12) & 63), 0x80 | ((cp >> 6) & 63), 0x80 | (cp & 63));
    }
    return new Uint8Array(out);
  }

  function utf8decode(bytes) {
    var out = '';
    for (var i = 0; i < bytes.length; ) {
      var b = bytes[i], cp;
      if (b < 0x80) { cp = b; i += 1; }
      else if (b < 0xe0) { cp = ((b & 31) << 6) | (bytes[i + 1] & 63); i += 2; }
      else if (b < 0xf0) { cp = ((b & 15) << 12) | ((bytes[i + 1] & 63) << 6) | (bytes[i + 2] & 63); i += 3; }
      else { cp = ((b & 7) << 18) | ((bytes[i + 1] & 63) << 12) | ((bytes[i + 2] & 63) << 6) | (bytes[i + 3] & 63); i += 4; }
      out += String.fromCodePoint(cp);
    }
    return out;
  }

  class Headers {
    constructor(init) {
      this._map = {};
      if (init) {
        if (init instanceof Headers) {
          for (var k in init._map) this._map[k] = init._map[k];
        } else if (Array.isArray(init)) {
          for (var i = 0; i < init.length; i++) this.set(init[i][0], init[i][1]);
        } else {
          for (var name in init) this.set(name, init[name]);
        }
      }
    }
    get(name) {
      var v = this._map[String(name).toLowerCase()];
      return v === undefined ? null : v;
    }
    set(name, value) { this._map[String(name).toLowerCase()] = String(value); }
    append(name, value) {
      var key = String(name).toLowerCase();
      this._map[key] = this._map[key] === undefined ? String(value) : this._map[key] + ', ' + String(value);
    }
    has(name) { return this._map[String(name).toLowerCase()] !== undefined; }
    delete(name) { delete this._map[String(name).toLowerCase()]; }
    forEach(fn, thisArg) {
      for (var k in this._map) fn.call(thisArg, this._map[k], k, this);
    }
    entries() {
      var out = [];
      for (var k in this._map) out.push([k, this._map[k]]);
      return out[Symbol.iterator]();
    }
    keys() { return Object.keys(this._map)[Symbol.iterator](); }
    [Symbol.iterator]() { return this.entries(); }
  }

  class Body {
    constructor(bytes) { this._bytes = bytes || new Uint8Array(0); this.bodyUsed = false; }
    async arrayBuffer() {
      this.bodyUsed = true;
      return this._bytes.buffer.slice(this._bytes.byteOffset, this._bytes.byteOffset + this._bytes.byteLength);
    }
    async bytes() { this.bodyUsed = true; return this._bytes; }
    async text() { this.bodyUsed = true; return utf8decode(this._bytes); }
    async json() { return JSON.parse(await this.text()); }
  }

  function coerceBody(body) {
    if (body === null || body === undefined) return new Uint8Array(0);
    if (body instanceof Uint8Array) return body;
    if (body instanceof ArrayBuffer) return new Uint8Array(body);
    if (ArrayBuffer.isView(body)) return new Uint8Array(body.buffer, body.byteOffset, body.byteLength);
    return utf8encode(String(body));
  }

  class Request extends Body {
    constructor(input, init) {
      init = init || {};
      super(coerceBody(init.body));
      this.url = String(input);
      this.method = (init.method || 'GET').toUpperCase();
      this.headers = new Headers(init.headers);
    }
  }

  class Response extends Body {
    constructor(body, init) {
      init = init || {};
      super(coerceBody(body));
      this.status = init.status === undefined ? 200 : init.status | 0;
      this.statusText = init.statusText || '';
      this.headers = new Headers(init.headers);
      this.ok = this.status >= 200 && this.status < 300;
    }
    static json(value, init) {
      init = init || {};
      var headers = new Headers(init.headers);
      if (!headers.has('content-type')) headers.set('content-type', 'application/json');
      return new Response(JSON.stringify(value), { status: init.status, headers: headers });
    }
  }

  globalThis.Headers = Headers;
  globalThis.Request = Request;
  globalThis.Response = Response;

  globalThis.__dispatch = function(reqJSON) {
    globalThis.__resp_state = 'pending';
    globalThis.__resp_json = '';

    Promise.resolve().then(function() {
      var wire = JSON.parse(reqJSON);
      var mod = globalThis.__tenant_module__;
      if (!mod || typeof mod.fetch !== 'function') {
        throw new TypeError('module has no fetch handler');
      }
      var req = new Request(wire.url, {
        method: wire.method,
        headers: wire.headers,
        body: wire.bodyB64 ? b64decode(wire.bodyB64) : null,
      });
      return mod.fetch(req);
    }).then(function(resp) {
      if (!(resp instanceof Response)) {
        throw new TypeError('fetch handler must return a Response');
      }
      var headers = {};
      resp.headers.forEach(function(v, k) { headers[k] = v; });
      globalThis.__resp_json = JSON.stringify({
        status: resp.status,
        headers: headers,
        bodyB64: b64encode(resp._bytes),
      });
      globalThis.__resp_state = 'fulfilled';
    }).catch(function(err) {
      globalThis.__resp_json = String(err && err.stack ? err.stack : err);
      globalThis.__resp_state = 'rejected';
    });
  };
})();
`
